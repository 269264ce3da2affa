// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pennywise-ai/chatcore/internal/gateway"
	"github.com/pennywise-ai/chatcore/internal/model"
	"github.com/pennywise-ai/chatcore/internal/store"
)

// Status is the manager's activity state. One response is in flight at most.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusStreaming       Status = "streaming"
	StatusGeneratingImage Status = "generating_image"
)

// StopFallback is the assistant text committed when a response is stopped
// before any content arrived.
const StopFallback = "Response was stopped."

// imageFallbackCaption captions a generated image when the backend sent no
// description.
const imageFallbackCaption = "Here is the image you requested:"

// Error variables for operation guards.
var (
	// ErrBusy indicates a response is already in flight.
	ErrBusy = errors.New("a response is already in progress")

	// ErrNoActiveConversation indicates no conversation is selected.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrEmptyMessage indicates the message was blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNothingToRegenerate indicates the conversation has no exchange to
	// redo yet.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")
)

// Backend is the remote surface the manager needs.
type Backend interface {
	StreamChat(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error)
	GenerateImage(ctx context.Context, prompt string) (*gateway.ImageResult, error)
}

// Notifier receives user-facing failure notices.
type Notifier func(title, message string)

// DeltaFunc receives streamed content deltas for live rendering.
type DeltaFunc func(conversationID, delta string)

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the conversation list and drives sends end to end.
//
// Send and Regenerate block until the response finishes; run them in their
// own goroutine and use Stop from another to cancel. All other methods are
// safe to call concurrently.
type Manager struct {
	backend Backend
	store   store.Store // nil disables persistence
	userID  string

	notify   Notifier
	onDelta  DeltaFunc
	onUpdate func()

	mu            sync.Mutex
	conversations []*model.Conversation
	activeID      string
	status        Status
	cancel        context.CancelFunc
}

// NewManager creates a manager over the given backend with no persistence.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		status:  StatusIdle,
	}
}

// WithStore enables persistence, scoping conversations to userID.
func (m *Manager) WithStore(s store.Store, userID string) *Manager {
	m.store = s
	m.userID = userID
	return m
}

// WithNotifier sets the failure notice sink.
func (m *Manager) WithNotifier(f Notifier) *Manager {
	m.notify = f
	return m
}

// WithDeltaFunc sets the live delta sink.
func (m *Manager) WithDeltaFunc(f DeltaFunc) *Manager {
	m.onDelta = f
	return m
}

// WithUpdateFunc sets a callback invoked after every state change.
func (m *Manager) WithUpdateFunc(f func()) *Manager {
	m.onUpdate = f
	return m
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Status returns the current activity state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ActiveID returns the selected conversation's ID, or "" if none.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Active returns a copy of the selected conversation, or nil.
func (m *Manager) Active() *model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv := m.findLocked(m.activeID); conv != nil {
		return conv.Clone()
	}
	return nil
}

// Conversations returns copies of all conversations, most recent first.
func (m *Manager) Conversations() []*model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Conversation, len(m.conversations))
	for i, conv := range m.conversations {
		out[i] = conv.Clone()
	}
	return out
}

// findLocked returns the conversation with the given ID, or nil. Callers
// hold m.mu.
func (m *Manager) findLocked(id string) *model.Conversation {
	for _, conv := range m.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// Load hydrates the conversation list from the store and selects the most
// recent conversation. Without a store it is a no-op.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	convs, err := m.store.ListConversations(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	m.mu.Lock()
	m.conversations = convs
	if len(convs) > 0 {
		m.activeID = convs[0].ID
	} else {
		m.activeID = ""
	}
	m.mu.Unlock()

	log.Debug().Int("count", len(convs)).Msg("conversations loaded")
	m.fireUpdate()
	return nil
}

// NewConversation creates and selects an empty conversation. With a store,
// the row is created first; a conversation that cannot be persisted is not
// usable and the operation aborts.
func (m *Manager) NewConversation(ctx context.Context) (*model.Conversation, error) {
	conv := model.NewConversation()
	if m.store != nil {
		if err := m.store.CreateConversation(ctx, m.userID, conv); err != nil {
			m.fireNotice("Failed to create conversation", err.Error())
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	}

	m.mu.Lock()
	m.conversations = append([]*model.Conversation{conv}, m.conversations...)
	m.activeID = conv.ID
	m.mu.Unlock()

	m.fireUpdate()
	return conv.Clone(), nil
}

// Select makes the conversation active. Unknown IDs are ignored.
func (m *Manager) Select(id string) {
	m.mu.Lock()
	if m.findLocked(id) == nil {
		m.mu.Unlock()
		return
	}
	m.activeID = id
	m.mu.Unlock()
	m.fireUpdate()
}

// Delete removes a conversation. Deleting the active conversation selects
// the most recent remaining one, or none.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if m.store != nil {
		if err := m.store.DeleteConversation(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			m.fireNotice("Failed to delete conversation", err.Error())
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
	}

	m.mu.Lock()
	kept := m.conversations[:0]
	for _, conv := range m.conversations {
		if conv.ID != id {
			kept = append(kept, conv)
		}
	}
	m.conversations = kept
	if m.activeID == id {
		if len(kept) > 0 {
			m.activeID = kept[0].ID
		} else {
			m.activeID = ""
		}
	}
	m.mu.Unlock()

	m.fireUpdate()
	return nil
}

// TogglePin flips the conversation's pinned flag.
func (m *Manager) TogglePin(ctx context.Context, id string) error {
	m.mu.Lock()
	conv := m.findLocked(id)
	if conv == nil {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	conv.Pinned = !conv.Pinned
	conv.Touch()
	pinned := conv.Pinned
	m.mu.Unlock()
	m.fireUpdate()

	if m.store != nil {
		if err := m.store.UpdateConversation(ctx, id, store.ConversationUpdate{Pinned: &pinned}); err != nil {
			m.fireNotice("Failed to save conversation", err.Error())
			return err
		}
	}
	return nil
}

// Rename sets the conversation's title. Blank titles are ignored.
func (m *Manager) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}

	m.mu.Lock()
	conv := m.findLocked(id)
	if conv == nil {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	conv.Title = title
	conv.Touch()
	m.mu.Unlock()
	m.fireUpdate()

	if m.store != nil {
		if err := m.store.UpdateConversation(ctx, id, store.ConversationUpdate{Title: &title}); err != nil {
			m.fireNotice("Failed to save conversation", err.Error())
			return err
		}
	}
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// Send commits the user message and drives one assistant response to
// completion. Image requests route to the image endpoint, everything else
// streams. Blocks until the response is committed; a concurrent Stop
// cancels it and commits the partial text.
//
// A cancelled send is not an error: the partial response (or StopFallback)
// is committed and Send returns nil.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	conv := m.findLocked(m.activeID)
	if conv == nil {
		m.mu.Unlock()
		return ErrNoActiveConversation
	}
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrBusy
	}

	userMsg := model.NewUserMessage(text)
	titleBefore := conv.Title
	conv.Append(userMsg)
	titleAfter := conv.Title
	convID := conv.ID

	isImage := IsImageRequest(text)
	if isImage {
		m.status = StatusGeneratingImage
	} else {
		m.status = StatusStreaming
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	defer m.finishResponse(cancel)
	m.fireUpdate()

	m.persistMessage(convID, userMsg)
	if titleAfter != titleBefore {
		m.persistTitle(convID, titleAfter)
	}

	if isImage {
		return m.runImage(ctx, convID, ExtractImagePrompt(text))
	}
	return m.runStream(ctx, convID)
}

// Stop cancels the in-flight response, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Regenerate drops everything after the last user message and streams a
// fresh response to it. The removed rows are also deleted from the store.
func (m *Manager) Regenerate(ctx context.Context) error {
	m.mu.Lock()
	conv := m.findLocked(m.activeID)
	if conv == nil {
		m.mu.Unlock()
		return ErrNoActiveConversation
	}
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	if conv.MessageCount() < 2 {
		m.mu.Unlock()
		return ErrNothingToRegenerate
	}
	removed := conv.TruncateAfterLastUser()
	if removed == nil {
		m.mu.Unlock()
		return ErrNothingToRegenerate
	}
	convID := conv.ID

	m.status = StatusStreaming
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	defer m.finishResponse(cancel)
	m.fireUpdate()

	if m.store != nil && len(removed) > 0 {
		ids := make([]string, len(removed))
		for i, msg := range removed {
			ids[i] = msg.ID
		}
		if err := m.store.DeleteMessages(context.Background(), ids); err != nil {
			m.fireNotice("Failed to save conversation", err.Error())
		}
	}

	return m.runStream(ctx, convID)
}

// finishResponse resets the activity state after a send.
func (m *Manager) finishResponse(cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	m.status = StatusIdle
	m.cancel = nil
	m.mu.Unlock()
	m.fireUpdate()
}

// =============================================================================
// RESPONSE EXECUTION
// =============================================================================

// runStream streams one assistant response and commits it.
func (m *Manager) runStream(ctx context.Context, convID string) error {
	m.mu.Lock()
	conv := m.findLocked(convID)
	if conv == nil {
		m.mu.Unlock()
		return nil
	}
	history := conv.History()
	m.mu.Unlock()

	full, err := m.backend.StreamChat(ctx, history, func(delta string) {
		if m.onDelta != nil {
			m.onDelta(convID, delta)
		}
	})
	if err != nil {
		if gateway.IsCancellation(err) {
			partial := ""
			var streamErr *gateway.StreamError
			if errors.As(err, &streamErr) {
				partial = streamErr.Partial
			}
			if partial == "" {
				partial = StopFallback
			}
			log.Debug().Str("conversation", convID).Int("chars", len(partial)).Msg("stream stopped")
			m.commitAssistant(convID, model.NewAssistantMessage(partial))
			return nil
		}
		m.reportFailure(err)
		return err
	}

	m.commitAssistant(convID, model.NewAssistantMessage(full))
	return nil
}

// runImage generates one image and commits it as an assistant message.
// A cancelled generation commits nothing.
func (m *Manager) runImage(ctx context.Context, convID, prompt string) error {
	result, err := m.backend.GenerateImage(ctx, prompt)
	if err != nil {
		if gateway.IsCancellation(err) {
			return nil
		}
		m.reportFailure(err)
		return err
	}

	caption := result.Description
	if caption == "" {
		caption = imageFallbackCaption
	}
	m.commitAssistant(convID, model.NewImageMessage(caption, result.URL))
	return nil
}

// commitAssistant appends the response to its conversation. A conversation
// deleted mid-flight silently swallows the response.
func (m *Manager) commitAssistant(convID string, msg model.Message) {
	m.mu.Lock()
	conv := m.findLocked(convID)
	if conv == nil {
		m.mu.Unlock()
		return
	}
	conv.Append(msg)
	m.mu.Unlock()

	m.fireUpdate()
	m.persistMessage(convID, msg)
}

// =============================================================================
// PERSISTENCE AND NOTICES
// =============================================================================

// persistMessage writes one message behind the in-memory commit. Failures
// are reported but never roll back local state. Uses its own context so a
// stopped stream still gets its partial text saved.
func (m *Manager) persistMessage(convID string, msg model.Message) {
	if m.store == nil {
		return
	}
	err := m.store.AppendMessage(context.Background(), convID, msg)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return
	}
	log.Warn().Err(err).Str("conversation", convID).Msg("message persist failed")
	m.fireNotice("Failed to save message", err.Error())
}

func (m *Manager) persistTitle(convID, title string) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateConversation(context.Background(), convID, store.ConversationUpdate{Title: &title}); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("conversation", convID).Msg("title persist failed")
	}
}

// reportFailure translates backend errors into user-facing notices.
func (m *Manager) reportFailure(err error) {
	switch {
	case errors.Is(err, gateway.ErrRateLimited):
		m.fireNotice("Rate limited", "Too many requests. Please wait a moment and try again.")
	case errors.Is(err, gateway.ErrQuotaExceeded):
		m.fireNotice("Quota exceeded", "Usage limit reached. Please add credits to continue.")
	case errors.Is(err, gateway.ErrEmptyResponse):
		m.fireNotice("Empty response", "The model returned no content. Please try again.")
	case errors.Is(err, gateway.ErrNoImage):
		m.fireNotice("Image generation failed", "No image was produced. Please try a different prompt.")
	default:
		m.fireNotice("Something went wrong", err.Error())
	}
}

func (m *Manager) fireNotice(title, message string) {
	if m.notify != nil {
		m.notify(title, message)
	}
}

func (m *Manager) fireUpdate() {
	if m.onUpdate != nil {
		m.onUpdate()
	}
}
