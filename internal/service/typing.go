package service

import (
	"sync"
	"time"

	"garage-backend/internal/model"
)

// DefaultTypingTimeout is the server-side expiry for a typing pulse. Clients
// debounce at about one second; the server window is wider so a dropped
// "stopped typing" frame still clears the indicator.
const DefaultTypingTimeout = 4 * time.Second

type typingKey struct {
	conversationID string
	role           model.Role
}

// TypingCoordinator relays typing pulses to the counterpart side of a
// conversation and force-expires stale ones. State is in-memory only; it is
// lost on restart, which is fine for a best-effort indicator.
type TypingCoordinator struct {
	registry *Registry
	timeout  time.Duration

	mu     sync.Mutex
	timers map[typingKey]*time.Timer
}

func NewTypingCoordinator(registry *Registry, timeout time.Duration) *TypingCoordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingCoordinator{
		registry: registry,
		timeout:  timeout,
		timers:   make(map[typingKey]*time.Timer),
	}
}

// SetTyping records the pulse and broadcasts it to room members on the other
// side of the conversation. A true pulse arms (or re-arms) the expiry timer;
// a false pulse cancels it.
func (t *TypingCoordinator) SetTyping(conversationID string, role model.Role, active bool) {
	side := role.Side()
	key := typingKey{conversationID: conversationID, role: side}

	t.mu.Lock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	if active {
		t.timers[key] = time.AfterFunc(t.timeout, func() { t.expire(key) })
	}
	t.mu.Unlock()

	t.emit(conversationID, side, active)
}

// expire fires when no refresh arrived within the window: drop the state and
// emit a synthetic stop so counterpart UIs don't show a stuck indicator.
func (t *TypingCoordinator) expire(key typingKey) {
	t.mu.Lock()
	if _, ok := t.timers[key]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	t.emit(key.conversationID, key.role, false)
}

func (t *TypingCoordinator) emit(conversationID string, role model.Role, active bool) {
	event, err := model.NewEvent(model.EventUserTyping, model.UserTypingPayload{
		ConversationID: conversationID,
		IsTyping:       active,
		UserRole:       role,
	})
	if err != nil {
		return
	}
	t.registry.BroadcastExceptRole(conversationID, role, event)
}

// ActiveCount reports currently armed typing states.
func (t *TypingCoordinator) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels all pending timers without emitting stops. Used on shutdown.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
