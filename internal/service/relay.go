package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"garage-backend/internal/cache"
	"garage-backend/internal/model"
)

// ErrEmptyMessage rejects a send with neither body text nor attachments.
var ErrEmptyMessage = errors.New("message body or attachment required")

// ConversationsCacheKey is invalidated on every write so the admin list never
// serves a stale summary past the cache TTL.
const ConversationsCacheKey = "chat:conversations"

// ChatStore is the persistence collaborator behind the relay. Implemented by
// repository.ChatRepository; tests swap in an in-memory fake.
type ChatStore interface {
	AppendMessage(ctx context.Context, draft model.MessageDraft) (*model.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID string, readerRole model.Role) (int64, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	ListConversations(ctx context.Context) ([]model.ConversationSummary, error)
}

type viewerKey struct {
	conversationID string
	role           model.Role
}

// Relay owns the persist-then-broadcast path. Every operation that mutates a
// single conversation (append, read flags, counters) runs under that
// conversation's mutex so fan-out order matches persistence order; different
// conversations proceed in parallel.
type Relay struct {
	store    ChatStore
	registry *Registry
	cache    *cache.Cache

	lockMu    sync.Mutex
	convLocks map[string]*sync.Mutex

	viewMu  sync.Mutex
	viewers map[viewerKey]map[*Client]bool
}

func NewRelay(store ChatStore, registry *Registry, c *cache.Cache) *Relay {
	return &Relay{
		store:     store,
		registry:  registry,
		cache:     c,
		convLocks: make(map[string]*sync.Mutex),
		viewers:   make(map[viewerKey]map[*Client]bool),
	}
}

// SendMessage validates, persists, then broadcasts. Persistence completes
// before any fan-out so a client that receives the live event can always
// retrieve the same message via backfill. A persistence error aborts the
// whole operation; nothing is broadcast.
func (r *Relay) SendMessage(ctx context.Context, sender *Client, conversationID, body string, attachments []string) (*model.Message, error) {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	// Customers always talk in their own conversation regardless of what the
	// client sent.
	if !sender.Role.Privileged() {
		conversationID = sender.UserID
	}

	lock := r.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	recipient := sender.Role.Counterpart()
	read := r.viewing(conversationID, recipient)

	msg, err := r.store.AppendMessage(ctx, model.MessageDraft{
		ConversationID: conversationID,
		CustomerName:   customerName(sender),
		SenderRole:     sender.Role.Side(),
		Body:           body,
		Attachments:    attachments,
		MarkRead:       read,
		AllowCreate:    !sender.Role.Privileged(),
	})
	if err != nil {
		return nil, err
	}

	r.cache.Delete(ctx, ConversationsCacheKey)

	event, evErr := model.NewEvent(model.EventReceiveMessage, msg)
	if evErr != nil {
		return msg, nil
	}
	r.registry.Broadcast(conversationID, event, nil)

	// The recipient side is actively viewing: the message was persisted
	// already read, so the sender side gets its receipt immediately.
	if read {
		readEvent, err := model.NewEvent(model.EventMessagesRead, model.MessagesReadPayload{
			ConversationID: conversationID,
			ReaderRole:     recipient,
		})
		if err == nil {
			r.registry.BroadcastExceptRole(conversationID, recipient, readEvent)
		}
	}

	return msg, nil
}

// MarkAsRead flips every message addressed to the reader's side, resets that
// side's unread counter, and tells the room. It also records the reader as
// actively viewing the conversation until it leaves or disconnects.
func (r *Relay) MarkAsRead(ctx context.Context, reader *Client, conversationID string) error {
	if !reader.Role.Privileged() {
		conversationID = reader.UserID
	}

	lock := r.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	side := reader.Role.Side()
	if _, err := r.store.MarkMessagesRead(ctx, conversationID, side); err != nil {
		return err
	}

	r.cache.Delete(ctx, ConversationsCacheKey)
	r.setViewing(conversationID, side, reader)

	event, err := model.NewEvent(model.EventMessagesRead, model.MessagesReadPayload{
		ConversationID: conversationID,
		ReaderRole:     side,
	})
	if err == nil {
		r.registry.Broadcast(conversationID, event, nil)
	}
	return nil
}

// ClientGone clears any active-viewer state for a departed connection. Called
// on disconnect and on leave-conversation.
func (r *Relay) ClientGone(c *Client) {
	r.viewMu.Lock()
	defer r.viewMu.Unlock()
	for key, set := range r.viewers {
		if set[c] {
			delete(set, c)
			if len(set) == 0 {
				delete(r.viewers, key)
			}
		}
	}
}

// LeftConversation clears viewer state for one room only.
func (r *Relay) LeftConversation(c *Client, conversationID string) {
	key := viewerKey{conversationID: conversationID, role: c.Role.Side()}
	r.viewMu.Lock()
	defer r.viewMu.Unlock()
	if set, ok := r.viewers[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.viewers, key)
		}
	}
}

// RetentionSweep deletes messages older than the retention window once per
// day until ctx is canceled. A store without retention support makes this a
// no-op.
func (r *Relay) RetentionSweep(ctx context.Context, days int) {
	type sweeper interface {
		DeleteOlderThan(ctx context.Context, days int) (int64, error)
	}
	s, ok := r.store.(sweeper)
	if !ok || days <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteOlderThan(ctx, days)
			if err != nil {
				log.Printf("[Chat] retention sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Chat] retention sweep removed %d messages", n)
			}
		}
	}
}

func (r *Relay) convLock(conversationID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.convLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		r.convLocks[conversationID] = lock
	}
	return lock
}

func (r *Relay) setViewing(conversationID string, role model.Role, c *Client) {
	key := viewerKey{conversationID: conversationID, role: role}
	r.viewMu.Lock()
	defer r.viewMu.Unlock()
	set := r.viewers[key]
	if set == nil {
		set = make(map[*Client]bool)
		r.viewers[key] = set
	}
	set[c] = true
}

// viewing reports whether any connection of the given side is actively
// looking at the conversation and still joined to its room.
func (r *Relay) viewing(conversationID string, role model.Role) bool {
	key := viewerKey{conversationID: conversationID, role: role.Side()}
	r.viewMu.Lock()
	defer r.viewMu.Unlock()
	for c := range r.viewers[key] {
		if r.registry.InRoom(c, conversationID) {
			return true
		}
	}
	return false
}

func customerName(sender *Client) string {
	if sender.Role.Privileged() {
		return ""
	}
	return sender.DisplayName
}
