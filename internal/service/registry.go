package service

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"garage-backend/internal/model"

	"github.com/gofiber/contrib/websocket"
)

// Socket namespaces. Chat carries conversation traffic, notifications carries
// role-scoped operational events; they never share event types.
const (
	NamespaceChat          = "chat"
	NamespaceNotifications = "notifications"
)

var (
	ErrMissingIdentity  = errors.New("participant id required on chat namespace")
	ErrRestrictedAccess = errors.New("namespace restricted to staff roles")
	ErrRoomForbidden    = errors.New("customers may only join their own conversation room")
)

// Client is one live socket. Delivery goes through the buffered Send channel
// drained by WriteLoop, so fan-out never blocks on a slow peer.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	UserID      string
	DisplayName string
	Role        model.Role
	Namespace   string
	Send        chan []byte
	JoinedAt    time.Time

	sendMu sync.Mutex
	closed bool
}

// WriteLoop drains Send onto the wire. It exits when Send is closed (the
// registry removed the client) or a write fails, and closes the socket either
// way so the read loop unblocks.
func (c *Client) WriteLoop() {
	defer c.Conn.Close()

	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// deliver enqueues without blocking. A full buffer means the peer is too slow
// to keep up; the frame is dropped and the client catches up via backfill.
// The guard shared with closeSend makes a send after removal impossible: a
// broadcast can snapshot a client just before its disconnect races past, and
// must then drop the frame rather than hit a closed channel.
func (c *Client) deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// SendEvent marshals and enqueues a single frame for this client only. Used
// for error acks and pongs that must not reach the rest of a room.
func (c *Client) SendEvent(event *model.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	return c.deliver(data)
}

// closeSend is idempotent so Remove can be called from multiple paths, and
// takes the same guard as deliver so no enqueue can follow the close.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Registry is the authoritative map of live connections and their room
// memberships. Reads (fan-out lookups) vastly outnumber writes
// (admit/remove/join/leave), hence the RWMutex over the channel-based hub.
type Registry struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	rooms       map[string]map[*Client]bool
	clientRooms map[*Client]map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		clientRooms: make(map[*Client]map[string]bool),
	}
}

// Admit records the connection. Chat sockets need a participant id; the
// notification namespace admits staff roles only. Customers are auto-joined
// to the room named by their own participant id. Admitting the same client
// twice is a no-op.
func (r *Registry) Admit(c *Client) error {
	switch c.Namespace {
	case NamespaceChat:
		if c.UserID == "" {
			return ErrMissingIdentity
		}
	case NamespaceNotifications:
		if !c.Role.Privileged() {
			return ErrRestrictedAccess
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[c] {
		return nil
	}
	r.clients[c] = true
	r.clientRooms[c] = make(map[string]bool)

	if c.Namespace == NamespaceChat && !c.Role.Privileged() {
		r.joinLocked(c, c.UserID)
	}

	log.Printf("WS: %s/%s connected on %s (total: %d)", c.UserID, c.Role, c.Namespace, len(r.clients))
	return nil
}

// Remove drops the connection from every room and guarantees no further
// fan-out targets it. Safe to call for a client that was never admitted.
func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	if !r.clients[c] {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	for roomID := range r.clientRooms[c] {
		r.leaveLocked(c, roomID)
	}
	delete(r.clientRooms, c)
	total := len(r.clients)
	r.mu.Unlock()

	c.closeSend()
	log.Printf("WS: %s/%s disconnected from %s (total: %d)", c.UserID, c.Role, c.Namespace, total)
}

// Join adds a room membership. Customers are pinned to their own room; staff
// may join any conversation. Joining twice is a no-op.
func (r *Registry) Join(c *Client, roomID string) error {
	if !c.Role.Privileged() && roomID != c.UserID {
		return ErrRoomForbidden
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.clients[c] {
		return nil
	}
	r.joinLocked(c, roomID)
	return nil
}

func (r *Registry) Leave(c *Client, roomID string) {
	r.mu.Lock()
	r.leaveLocked(c, roomID)
	r.mu.Unlock()
}

// InRoom reports current membership.
func (r *Registry) InRoom(c *Client, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID][c]
}

// ConnectionsFor returns a point-in-time snapshot of all live connections of
// a participant.
func (r *Registry) ConnectionsFor(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Client
	for c := range r.clients {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// ConnectionsForRole returns a snapshot of all live connections on the given
// namespace whose role collapses to the same conversation side.
func (r *Registry) ConnectionsForRole(role model.Role, namespace string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	side := role.Side()
	var out []*Client
	for c := range r.clients {
		if c.Namespace == namespace && c.Role.Side() == side {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast delivers the event to every current member of the room, skipping
// exclude when non-nil. Returns the number of deliveries. An empty room is a
// silent no-op.
func (r *Registry) Broadcast(roomID string, event *model.Event, exclude *Client) int {
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	return r.fanOut(roomID, data, func(c *Client) bool { return c != exclude })
}

// BroadcastExceptRole delivers to room members whose conversation side
// differs from role. Used for typing pulses and read receipts, which are only
// meaningful to the counterpart side.
func (r *Registry) BroadcastExceptRole(roomID string, role model.Role, event *model.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	side := role.Side()
	return r.fanOut(roomID, data, func(c *Client) bool { return c.Role.Side() != side })
}

// BroadcastToRole delivers to every connection of a role cohort on a
// namespace, independent of rooms.
func (r *Registry) BroadcastToRole(role model.Role, namespace string, event *model.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}

	delivered := 0
	for _, c := range r.ConnectionsForRole(role, namespace) {
		if c.deliver(data) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) fanOut(roomID string, data []byte, want func(*Client) bool) int {
	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[roomID]))
	for c := range r.rooms[roomID] {
		if want(c) {
			members = append(members, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.deliver(data) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Shutdown closes every connection's send channel, unblocking all write
// loops.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[*Client]bool)
	r.rooms = make(map[string]map[*Client]bool)
	r.clientRooms = make(map[*Client]map[string]bool)
	r.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}

func (r *Registry) joinLocked(c *Client, roomID string) {
	room := r.rooms[roomID]
	if room == nil {
		room = make(map[*Client]bool)
		r.rooms[roomID] = room
	}
	room[c] = true

	memberships := r.clientRooms[c]
	if memberships == nil {
		memberships = make(map[string]bool)
		r.clientRooms[c] = memberships
	}
	memberships[roomID] = true
}

func (r *Registry) leaveLocked(c *Client, roomID string) {
	room := r.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	if memberships, ok := r.clientRooms[c]; ok {
		delete(memberships, roomID)
	}
}
