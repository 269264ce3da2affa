// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "strings"

// Image marker delimiters. The stored content column carries the image URL
// appended after the text, on its own marker-wrapped line.
const (
	imageMarkerOpen  = "\n[image]"
	imageMarkerClose = "[/image]"
)

// EncodeImageContent folds an image URL into the content column. An empty
// URL returns the content unchanged.
func EncodeImageContent(content, imageURL string) string {
	if imageURL == "" {
		return content
	}
	return content + imageMarkerOpen + imageURL + imageMarkerClose
}

// DecodeImageContent splits a stored content value back into text and image
// URL. Content without a trailing marker comes back verbatim with an empty
// URL, so pre-marker rows keep decoding.
func DecodeImageContent(stored string) (content, imageURL string) {
	if !strings.HasSuffix(stored, imageMarkerClose) {
		return stored, ""
	}
	idx := strings.LastIndex(stored, imageMarkerOpen)
	if idx < 0 {
		return stored, ""
	}
	content = stored[:idx]
	imageURL = stored[idx+len(imageMarkerOpen) : len(stored)-len(imageMarkerClose)]
	return content, imageURL
}
