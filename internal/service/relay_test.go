package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"garage-backend/internal/model"
	"garage-backend/internal/repository"

	"github.com/google/uuid"
)

// fakeStore is an in-memory ChatStore with the same semantics as the
// Postgres repository: lazy conversation creation, unread counters, read
// flags.
type fakeStore struct {
	mu            sync.Mutex
	messages      map[string][]model.Message
	conversations map[string]*model.ConversationSummary
	appendErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:      make(map[string][]model.Message),
		conversations: make(map[string]*model.ConversationSummary),
	}
}

func (s *fakeStore) AppendMessage(_ context.Context, draft model.MessageDraft) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return nil, s.appendErr
	}

	conv, ok := s.conversations[draft.ConversationID]
	if !ok {
		if !draft.AllowCreate {
			return nil, repository.ErrConversationNotFound
		}
		conv = &model.ConversationSummary{
			ID:           draft.ConversationID,
			CustomerName: draft.CustomerName,
			CreatedAt:    time.Now(),
		}
		s.conversations[draft.ConversationID] = conv
	}

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: draft.ConversationID,
		SenderRole:     draft.SenderRole.Side(),
		Body:           draft.Body,
		Attachments:    draft.Attachments,
		IsRead:         draft.MarkRead,
		CreatedAt:      time.Now(),
	}
	s.messages[draft.ConversationID] = append(s.messages[draft.ConversationID], msg)

	conv.LastMessage = draft.Body
	conv.LastMessageAt = msg.CreatedAt
	if !draft.MarkRead {
		if msg.SenderRole == model.RoleUser {
			conv.UnreadAdmin++
		} else {
			conv.UnreadUser++
		}
	}
	return &msg, nil
}

func (s *fakeStore) MarkMessagesRead(_ context.Context, conversationID string, readerRole model.Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, repository.ErrConversationNotFound
	}

	var flipped int64
	counterpart := readerRole.Counterpart()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderRole == counterpart && !msgs[i].IsRead {
			msgs[i].IsRead = true
			flipped++
		}
	}
	if readerRole.Side() == model.RoleAdmin {
		conv.UnreadAdmin = 0
	} else {
		conv.UnreadUser = 0
	}
	return flipped, nil
}

func (s *fakeStore) GetHistory(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *fakeStore) ListConversations(_ context.Context) ([]model.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ConversationSummary
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	return out, nil
}

func relayFixture(t *testing.T) (*Relay, *fakeStore, *Registry) {
	t.Helper()
	store := newFakeStore()
	registry := NewRegistry()
	return NewRelay(store, registry, nil), store, registry
}

func recvMessage(t *testing.T, c *Client, timeout time.Duration) model.Message {
	t.Helper()
	ev := recv(t, c, timeout)
	if ev.Type != model.EventReceiveMessage {
		t.Fatalf("expected %s, got %s", model.EventReceiveMessage, ev.Type)
	}
	var m model.Message
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return m
}

func recvRead(t *testing.T, c *Client, timeout time.Duration) model.MessagesReadPayload {
	t.Helper()
	ev := recv(t, c, timeout)
	if ev.Type != model.EventMessagesRead {
		t.Fatalf("expected %s, got %s", model.EventMessagesRead, ev.Type)
	}
	var p model.MessagesReadPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return p
}

func TestSendMessagePersistsThenBroadcasts(t *testing.T) {
	relay, store, registry := relayFixture(t)

	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	customer.DisplayName = "Nguyen Van A"
	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Join(admin, "0909000111"); err != nil {
		t.Fatalf("join: %v", err)
	}

	sent, err := relay.SendMessage(context.Background(), customer, "0909000111", "Xin chào", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got := recvMessage(t, admin, time.Second)
	if got.Body != "Xin chào" || got.ID != sent.ID || got.ConversationID != "0909000111" {
		t.Fatalf("broadcast mismatch: %+v", got)
	}
	if got.SenderRole != model.RoleUser {
		t.Fatalf("expected sender role user, got %s", got.SenderRole)
	}
	if !got.CreatedAt.After(admin.JoinedAt) {
		t.Fatalf("server timestamp %v not after join time %v", got.CreatedAt, admin.JoinedAt)
	}

	// Backfill consistency: the live event is immediately retrievable.
	history, err := store.GetHistory(context.Background(), "0909000111", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != sent.ID || history[0].Body != "Xin chào" {
		t.Fatalf("history missing persisted message: %+v", history)
	}
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	relay, store, registry := relayFixture(t)
	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}

	if _, err := relay.SendMessage(context.Background(), customer, "0909000111", "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(store.messages["0909000111"]) != 0 {
		t.Fatalf("rejected message was persisted")
	}

	// Attachment-only messages are valid.
	if _, err := relay.SendMessage(context.Background(), customer, "0909000111", "", []string{"photo.jpg"}); err != nil {
		t.Fatalf("attachment-only send: %v", err)
	}
}

func TestSendMessagePersistFailureAbortsBroadcast(t *testing.T) {
	relay, store, registry := relayFixture(t)
	store.appendErr = errors.New("storage down")

	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Join(admin, "0909000111"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := relay.SendMessage(context.Background(), customer, "0909000111", "hello", nil); err == nil {
		t.Fatalf("expected persistence error")
	}
	assertNoFrame(t, admin, 50*time.Millisecond)
}

func TestSendMessageOrdering(t *testing.T) {
	relay, _, registry := relayFixture(t)
	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	admin.Send = make(chan []byte, 64)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Join(admin, "0909000111"); err != nil {
		t.Fatalf("join: %v", err)
	}

	bodies := []string{"first", "second", "third", "fourth"}
	for _, b := range bodies {
		if _, err := relay.SendMessage(context.Background(), customer, "0909000111", b, nil); err != nil {
			t.Fatalf("send %q: %v", b, err)
		}
	}

	for _, want := range bodies {
		got := recvMessage(t, admin, time.Second)
		if got.Body != want {
			t.Fatalf("out of order: want %q, got %q", want, got.Body)
		}
	}
}

func TestCustomerPinnedToOwnConversation(t *testing.T) {
	relay, store, registry := relayFixture(t)
	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}

	// Whatever conversation id the client claims, the message lands in the
	// customer's own thread.
	if _, err := relay.SendMessage(context.Background(), customer, "0909000222", "hello", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(store.messages["0909000111"]) != 1 {
		t.Fatalf("message not stored under sender's own conversation")
	}
	if len(store.messages["0909000222"]) != 0 {
		t.Fatalf("message leaked into foreign conversation")
	}
}

func TestAdminSendToUnknownConversationRejected(t *testing.T) {
	relay, _, registry := relayFixture(t)
	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}

	_, err := relay.SendMessage(context.Background(), admin, "no-such-customer", "hello", nil)
	if !errors.Is(err, repository.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMarkAsReadUnknownConversationRejected(t *testing.T) {
	relay, store, registry := relayFixture(t)

	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Join(admin, "no-such-customer"); err != nil {
		t.Fatalf("join: %v", err)
	}

	err := relay.MarkAsRead(context.Background(), admin, "no-such-customer")
	if !errors.Is(err, repository.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	// No receipt reaches the room when the store rejects the conversation.
	assertNoFrame(t, admin, 50*time.Millisecond)

	// The failed call must not have left viewer state behind: a later
	// message in a conversation of the same id starts out unread.
	customer := newTestClient("no-such-customer", model.RoleUser, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}
	sent, err := relay.SendMessage(context.Background(), customer, "", "anyone there?", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.IsRead {
		t.Fatalf("message marked read despite no active viewer")
	}
	if store.conversations["no-such-customer"].UnreadAdmin != 1 {
		t.Fatalf("unread counter not bumped")
	}
}

func TestMarkAsReadFlipsCounterpartMessagesOnly(t *testing.T) {
	relay, store, registry := relayFixture(t)

	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Join(admin, "0909000111"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ctx := context.Background()
	if _, err := relay.SendMessage(ctx, customer, "", "need an oil change", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := relay.SendMessage(ctx, customer, "", "today if possible", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := relay.SendMessage(ctx, admin, "0909000111", "sure, come by at 3pm", nil); err != nil {
		t.Fatalf("admin send: %v", err)
	}
	for i := 0; i < 3; i++ {
		recvMessage(t, admin, time.Second)
	}

	if err := relay.MarkAsRead(ctx, admin, "0909000111"); err != nil {
		t.Fatalf("mark as read: %v", err)
	}

	for _, m := range store.messages["0909000111"] {
		switch m.SenderRole {
		case model.RoleUser:
			if !m.IsRead {
				t.Fatalf("customer message left unread: %+v", m)
			}
		case model.RoleAdmin:
			if m.IsRead {
				t.Fatalf("admin's own message flipped: %+v", m)
			}
		}
	}
	if store.conversations["0909000111"].UnreadAdmin != 0 {
		t.Fatalf("admin unread counter not reset")
	}

	// The customer's connections learn about the receipt.
	// First drain the three receive-message frames.
	for i := 0; i < 3; i++ {
		recvMessage(t, customer, time.Second)
	}
	p := recvRead(t, customer, time.Second)
	if p.ConversationID != "0909000111" || p.ReaderRole != model.RoleAdmin {
		t.Fatalf("unexpected messages-read payload: %+v", p)
	}
}

func TestActiveViewerGetsInstantReadReceipt(t *testing.T) {
	relay, _, registry := relayFixture(t)

	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Join(admin, "0909000111"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ctx := context.Background()
	if _, err := relay.SendMessage(ctx, customer, "", "hello", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Admin opens the conversation: from here on, the admin side is an
	// active viewer.
	if err := relay.MarkAsRead(ctx, admin, "0909000111"); err != nil {
		t.Fatalf("mark as read: %v", err)
	}

	sent, err := relay.SendMessage(ctx, customer, "", "are you there?", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !sent.IsRead {
		t.Fatalf("message to an active viewer should be persisted read")
	}

	// Customer sees: echo of msg 1, messages-read, echo of msg 2, then the
	// instant receipt for msg 2.
	recvMessage(t, customer, time.Second)
	recvRead(t, customer, time.Second)
	recvMessage(t, customer, time.Second)
	p := recvRead(t, customer, time.Second)
	if p.ReaderRole != model.RoleAdmin {
		t.Fatalf("unexpected reader role %s", p.ReaderRole)
	}
}

func TestViewerStateClearedOnLeave(t *testing.T) {
	relay, store, registry := relayFixture(t)

	customer := newTestClient("0909000111", model.RoleUser, NamespaceChat)
	admin := newTestClient("admin-1", model.RoleAdmin, NamespaceChat)
	if err := registry.Admit(customer); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Admit(admin); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := registry.Join(admin, "0909000111"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ctx := context.Background()
	if err := relay.MarkAsRead(ctx, admin, "0909000111"); err != nil {
		t.Fatalf("mark as read: %v", err)
	}

	registry.Leave(admin, "0909000111")
	relay.LeftConversation(admin, "0909000111")

	sent, err := relay.SendMessage(ctx, customer, "", "hello again", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.IsRead {
		t.Fatalf("departed viewer still counted as actively watching")
	}
	if store.conversations["0909000111"].UnreadAdmin != 1 {
		t.Fatalf("unread counter not bumped after viewer left")
	}
}

func TestConcurrentConversationsDoNotInterleaveState(t *testing.T) {
	relay, store, registry := relayFixture(t)

	const perConversation = 20
	conversations := []string{"0909000111", "0909000222", "0909000333"}
	var wg sync.WaitGroup
	for _, convID := range conversations {
		customer := newTestClient(convID, model.RoleUser, NamespaceChat)
		if err := registry.Admit(customer); err != nil {
			t.Fatalf("admit: %v", err)
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < perConversation; i++ {
				if _, err := relay.SendMessage(context.Background(), c, "", "msg", nil); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(customer)
	}
	wg.Wait()

	for _, convID := range conversations {
		if got := len(store.messages[convID]); got != perConversation {
			t.Fatalf("conversation %s has %d messages, want %d", convID, got, perConversation)
		}
	}
}
