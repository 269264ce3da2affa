// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pennywise-ai/chatcore/internal/gateway"
	"github.com/pennywise-ai/chatcore/internal/model"
	"github.com/pennywise-ai/chatcore/internal/store"
)

// fakeBackend scripts the remote side of a send.
type fakeBackend struct {
	streamFn func(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error)
	imageFn  func(ctx context.Context, prompt string) (*gateway.ImageResult, error)
}

func (f *fakeBackend) StreamChat(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error) {
	return f.streamFn(ctx, history, onChunk)
}

func (f *fakeBackend) GenerateImage(ctx context.Context, prompt string) (*gateway.ImageResult, error) {
	return f.imageFn(ctx, prompt)
}

// echoBackend streams the given chunks and succeeds.
func echoBackend(chunks ...string) *fakeBackend {
	return &fakeBackend{
		streamFn: func(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error) {
			full := ""
			for _, c := range chunks {
				onChunk(c)
				full += c
			}
			return full, nil
		},
	}
}

// noticeLog records notifier calls.
type noticeLog struct {
	mu      sync.Mutex
	notices []string
}

func (n *noticeLog) fn(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, title)
}

func (n *noticeLog) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...)
}

func newTestManager(t *testing.T, backend Backend) *Manager {
	t.Helper()
	m := NewManager(backend)
	if _, err := m.NewConversation(context.Background()); err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	return m
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_StreamsAndCommits(t *testing.T) {
	m := newTestManager(t, echoBackend("Hello", ", world"))

	var deltas []string
	m.WithDeltaFunc(func(convID, delta string) {
		deltas = append(deltas, delta)
	})

	if err := m.Send(context.Background(), "hi there"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv := m.Active()
	if conv.MessageCount() != 2 {
		t.Fatalf("message count = %d, want 2", conv.MessageCount())
	}
	if conv.Messages[0].Role != model.RoleUser || conv.Messages[0].Content != "hi there" {
		t.Errorf("messages[0] = %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != model.RoleAssistant || conv.Messages[1].Content != "Hello, world" {
		t.Errorf("messages[1] = %+v", conv.Messages[1])
	}
	if conv.Title != "hi there" {
		t.Errorf("title = %q", conv.Title)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %q", deltas)
	}
	if m.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", m.Status())
	}
}

func TestSend_Guards(t *testing.T) {
	m := NewManager(echoBackend("x"))

	if err := m.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank message: err = %v", err)
	}
	if err := m.Send(context.Background(), "hi"); !errors.Is(err, ErrNoActiveConversation) {
		t.Errorf("no conversation: err = %v", err)
	}
}

func TestSend_RefusesWhileStreaming(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		streamFn: func(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error) {
			<-release
			return "done", nil
		},
	}
	m := newTestManager(t, backend)

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "first") }()

	waitForStatus(t, m, StatusStreaming)

	if err := m.Send(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent send: err = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}

	// Only the first exchange landed.
	if got := m.Active().MessageCount(); got != 2 {
		t.Errorf("message count = %d, want 2", got)
	}
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

func TestStop_CommitsPartialResponse(t *testing.T) {
	backend := &fakeBackend{
		streamFn: func(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error) {
			onChunk("Hi")
			onChunk(" there")
			<-ctx.Done()
			return "Hi there", &gateway.StreamError{Partial: "Hi there", Err: ctx.Err()}
		},
	}
	m := newTestManager(t, backend)
	notices := &noticeLog{}
	m.WithNotifier(notices.fn)

	seen := 0
	m.WithDeltaFunc(func(convID, delta string) {
		seen++
		if seen == 2 {
			go m.Stop()
		}
	})

	if err := m.Send(context.Background(), "question"); err != nil {
		t.Fatalf("stopped send must not error: %v", err)
	}

	conv := m.Active()
	if conv.MessageCount() != 2 {
		t.Fatalf("message count = %d, want 2", conv.MessageCount())
	}
	if conv.Messages[1].Content != "Hi there" {
		t.Errorf("partial = %q, want %q", conv.Messages[1].Content, "Hi there")
	}
	// Stopping is a user action, not a failure.
	if titles := notices.titles(); len(titles) != 0 {
		t.Errorf("notices = %q, want none", titles)
	}
	if m.Status() != StatusIdle {
		t.Errorf("status = %q", m.Status())
	}
}

func TestStop_BeforeAnyContentUsesFallback(t *testing.T) {
	backend := &fakeBackend{
		streamFn: func(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error) {
			<-ctx.Done()
			return "", &gateway.StreamError{Err: ctx.Err()}
		},
	}
	m := newTestManager(t, backend)

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "question") }()
	waitForStatus(t, m, StatusStreaming)
	m.Stop()

	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv := m.Active()
	if conv.Messages[1].Content != StopFallback {
		t.Errorf("content = %q, want %q", conv.Messages[1].Content, StopFallback)
	}
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestSend_FailureLeavesNoAssistantMessage(t *testing.T) {
	backend := &fakeBackend{
		streamFn: func(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error) {
			return "", gateway.ErrRateLimited
		},
	}
	m := newTestManager(t, backend)
	notices := &noticeLog{}
	m.WithNotifier(notices.fn)

	err := m.Send(context.Background(), "question")
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}

	// The user message stays; no assistant message is committed.
	conv := m.Active()
	if conv.MessageCount() != 1 {
		t.Errorf("message count = %d, want 1", conv.MessageCount())
	}
	titles := notices.titles()
	if len(titles) != 1 || titles[0] != "Rate limited" {
		t.Errorf("notices = %q", titles)
	}
	if m.Status() != StatusIdle {
		t.Errorf("status = %q", m.Status())
	}
}

// =============================================================================
// IMAGE TESTS
// =============================================================================

func TestSend_ImageRequest(t *testing.T) {
	var gotPrompt string
	var statusDuring Status
	backend := &fakeBackend{}
	m := newTestManager(t, backend)
	backend.imageFn = func(ctx context.Context, prompt string) (*gateway.ImageResult, error) {
		gotPrompt = prompt
		statusDuring = m.Status()
		return &gateway.ImageResult{URL: "data:image/png;base64,abc"}, nil
	}

	if err := m.Send(context.Background(), "/image a red fox"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPrompt != "a red fox" {
		t.Errorf("prompt = %q", gotPrompt)
	}
	if statusDuring != StatusGeneratingImage {
		t.Errorf("status during generation = %q", statusDuring)
	}

	conv := m.Active()
	img := conv.Messages[1]
	if img.ImageURL != "data:image/png;base64,abc" {
		t.Errorf("image url = %q", img.ImageURL)
	}
	if img.Content != imageFallbackCaption {
		t.Errorf("caption = %q", img.Content)
	}
}

func TestSend_ImageFailure(t *testing.T) {
	backend := &fakeBackend{
		imageFn: func(ctx context.Context, prompt string) (*gateway.ImageResult, error) {
			return nil, gateway.ErrNoImage
		},
	}
	m := newTestManager(t, backend)
	notices := &noticeLog{}
	m.WithNotifier(notices.fn)

	err := m.Send(context.Background(), "generate an image of a fox")
	if !errors.Is(err, gateway.ErrNoImage) {
		t.Fatalf("err = %v", err)
	}
	if got := m.Active().MessageCount(); got != 1 {
		t.Errorf("message count = %d, want 1", got)
	}
}

// =============================================================================
// REGENERATE TESTS
// =============================================================================

func TestRegenerate(t *testing.T) {
	var gotHistory []model.HistoryEntry
	backend := &fakeBackend{
		streamFn: func(ctx context.Context, history []model.HistoryEntry, onChunk gateway.ChunkFunc) (string, error) {
			gotHistory = history
			return "take two", nil
		},
	}
	m := newTestManager(t, backend)

	// Seed an existing exchange directly.
	seedExchange(t, m, "first question", "first answer")

	if err := m.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	// The backend saw history up to and including the last user message.
	if len(gotHistory) != 1 || gotHistory[0].Content != "first question" {
		t.Errorf("history = %+v", gotHistory)
	}

	conv := m.Active()
	if conv.MessageCount() != 2 {
		t.Fatalf("message count = %d, want 2", conv.MessageCount())
	}
	if conv.Messages[1].Content != "take two" {
		t.Errorf("regenerated = %q", conv.Messages[1].Content)
	}
}

func TestRegenerate_NeedsAnExchange(t *testing.T) {
	m := newTestManager(t, echoBackend("x"))

	if err := m.Regenerate(context.Background()); !errors.Is(err, ErrNothingToRegenerate) {
		t.Errorf("empty conversation: err = %v", err)
	}
}

// =============================================================================
// CONVERSATION MANAGEMENT TESTS
// =============================================================================

func TestDelete_ActiveSelectsNext(t *testing.T) {
	m := NewManager(echoBackend("x"))
	first, _ := m.NewConversation(context.Background())
	second, _ := m.NewConversation(context.Background())

	if m.ActiveID() != second.ID {
		t.Fatalf("active = %s, want newest", m.ActiveID())
	}

	if err := m.Delete(context.Background(), second.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.ActiveID() != first.ID {
		t.Errorf("active = %s, want %s", m.ActiveID(), first.ID)
	}

	if err := m.Delete(context.Background(), first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.ActiveID() != "" {
		t.Errorf("active = %q, want none", m.ActiveID())
	}
	if m.Active() != nil {
		t.Error("Active() should be nil after deleting everything")
	}
}

func TestSelect_UnknownIDIgnored(t *testing.T) {
	m := newTestManager(t, echoBackend("x"))
	before := m.ActiveID()
	m.Select("no-such-conversation")
	if m.ActiveID() != before {
		t.Errorf("active changed to %q", m.ActiveID())
	}
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestManager_PersistsThroughStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	s, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	m := NewManager(echoBackend("persisted answer")).WithStore(s, "user-1")
	if _, err := m.NewConversation(context.Background()); err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if err := m.Send(context.Background(), "persist me"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// A fresh manager over the same store sees the conversation.
	m2 := NewManager(echoBackend()).WithStore(s, "user-1")
	if err := m2.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	conv := m2.Active()
	if conv == nil {
		t.Fatal("no active conversation after load")
	}
	if conv.Title != "persist me" {
		t.Errorf("title = %q", conv.Title)
	}
	if conv.MessageCount() != 2 {
		t.Fatalf("message count = %d, want 2", conv.MessageCount())
	}
	if conv.Messages[1].Content != "persisted answer" {
		t.Errorf("messages[1] = %q", conv.Messages[1].Content)
	}
}

func TestNewConversation_StoreFailureAborts(t *testing.T) {
	s := &failingStore{}
	m := NewManager(echoBackend()).WithStore(s, "user-1")
	notices := &noticeLog{}
	m.WithNotifier(notices.fn)

	if _, err := m.NewConversation(context.Background()); err == nil {
		t.Fatal("expected error from failing store")
	}
	if len(m.Conversations()) != 0 {
		t.Error("unpersisted conversation must not join the list")
	}
	if titles := notices.titles(); len(titles) != 1 {
		t.Errorf("notices = %q", titles)
	}
}

// failingStore errors on creation; other operations never run.
type failingStore struct{}

func (f *failingStore) CreateConversation(ctx context.Context, userID string, conv *model.Conversation) error {
	return errors.New("disk full")
}
func (f *failingStore) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return nil, nil
}
func (f *failingStore) UpdateConversation(ctx context.Context, id string, update store.ConversationUpdate) error {
	return nil
}
func (f *failingStore) DeleteConversation(ctx context.Context, id string) error { return nil }
func (f *failingStore) AppendMessage(ctx context.Context, convID string, msg model.Message) error {
	return nil
}
func (f *failingStore) DeleteMessages(ctx context.Context, ids []string) error { return nil }
func (f *failingStore) Close() error                                           { return nil }

// =============================================================================
// HELPERS
// =============================================================================

func waitForStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status never reached %q (now %q)", want, m.Status())
}

// seedExchange plants a user/assistant pair without going through Send.
func seedExchange(t *testing.T, m *Manager, question, answer string) {
	t.Helper()
	m.mu.Lock()
	conv := m.findLocked(m.activeID)
	if conv == nil {
		m.mu.Unlock()
		t.Fatal("no active conversation to seed")
	}
	conv.Append(model.NewUserMessage(question))
	conv.Append(model.NewAssistantMessage(answer))
	m.mu.Unlock()
}
