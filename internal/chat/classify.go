// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

// imageCommandPrefix routes a message straight to image generation.
const imageCommandPrefix = "/image "

// imagePhrases are natural-language requests that route to image
// generation. Matching is case-insensitive and anywhere in the message.
var imagePhrases = []string{
	"generate an image of",
	"draw an image of",
	"create an image of",
}

// IsImageRequest reports whether the message asks for an image.
func IsImageRequest(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, imageCommandPrefix) {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range imagePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ExtractImagePrompt strips the trigger from an image request, leaving the
// subject to render. A message that matched no trigger comes back whole.
func ExtractImagePrompt(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, imageCommandPrefix) {
		return strings.TrimSpace(trimmed[len(imageCommandPrefix):])
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range imagePhrases {
		if idx := strings.Index(lower, phrase); idx >= 0 {
			prompt := strings.TrimSpace(trimmed[idx+len(phrase):])
			if prompt != "" {
				return prompt
			}
		}
	}
	return trimmed
}
