package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"garage-backend/internal/model"
	"garage-backend/internal/repository"
	"garage-backend/internal/service"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const readTimeout = 60 * time.Second

// WSHandler upgrades and drives sockets on both namespaces. The chat
// namespace is bidirectional; the notification namespace only pushes.
type WSHandler struct {
	registry *service.Registry
	relay    *service.Relay
	typing   *service.TypingCoordinator
	identity *service.IdentityService
}

func NewWSHandler(registry *service.Registry, relay *service.Relay, typing *service.TypingCoordinator, identity *service.IdentityService) *WSHandler {
	return &WSHandler{registry: registry, relay: relay, typing: typing, identity: identity}
}

// UpgradeChat handles GET /ws/chat?token=JWT.
func (h *WSHandler) UpgradeChat(c *fiber.Ctx) error {
	return h.upgrade(c, service.NamespaceChat, h.handleChat)
}

// UpgradeNotifications handles GET /ws/notifications?token=JWT. Staff only.
func (h *WSHandler) UpgradeNotifications(c *fiber.Ctx) error {
	return h.upgrade(c, service.NamespaceNotifications, h.handleNotifications)
}

func (h *WSHandler) upgrade(c *fiber.Ctx, namespace string, handle func(*websocket.Conn)) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	if token == "" {
		return c.Status(401).JSON(fiber.Map{"error": "token required"})
	}

	ident, err := h.identity.Resolve(token)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
	}

	c.Locals("user_id", ident.UserID)
	c.Locals("display_name", ident.DisplayName)
	c.Locals("role", ident.Role)
	c.Locals("namespace", namespace)
	return websocket.New(handle)(c)
}

// admit builds the client and registers it. An admission failure is the one
// fatal socket condition: the peer gets an error event and the connection
// closes.
func (h *WSHandler) admit(conn *websocket.Conn) (*service.Client, bool) {
	userID, _ := conn.Locals("user_id").(string)
	displayName, _ := conn.Locals("display_name").(string)
	role, _ := conn.Locals("role").(model.Role)
	namespace, _ := conn.Locals("namespace").(string)

	client := &service.Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		Namespace:   namespace,
		Send:        make(chan []byte, 256),
		JoinedAt:    time.Now(),
	}

	if err := h.registry.Admit(client); err != nil {
		h.rejectConn(conn, err.Error())
		return nil, false
	}

	go client.WriteLoop()
	return client, true
}

func (h *WSHandler) handleChat(conn *websocket.Conn) {
	client, ok := h.admit(conn)
	if !ok {
		return
	}
	defer func() {
		h.registry.Remove(client)
		h.relay.ClientGone(client)
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			h.errorAck(client, "malformed event")
			continue
		}

		h.dispatch(client, &event)
	}
}

func (h *WSHandler) dispatch(client *service.Client, event *model.Event) {
	ctx := context.Background()

	switch event.Type {
	case model.EventSendMessage:
		var p model.SendMessagePayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			h.errorAck(client, "malformed send-message payload")
			return
		}
		if _, err := h.relay.SendMessage(ctx, client, p.ConversationID, p.Message, p.Attachments); err != nil {
			h.errorAck(client, sendErrorMessage(err))
		}

	case model.EventTyping:
		var p model.TypingPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return
		}
		conversationID := p.ConversationID
		if !client.Role.Privileged() {
			conversationID = client.UserID
		}
		h.typing.SetTyping(conversationID, client.Role, p.IsTyping)

	case model.EventMarkAsRead:
		var p model.MarkAsReadPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			h.errorAck(client, "malformed mark-as-read payload")
			return
		}
		if err := h.relay.MarkAsRead(ctx, client, p.ConversationID); err != nil {
			if errors.Is(err, repository.ErrConversationNotFound) {
				h.errorAck(client, "unknown conversation")
			} else {
				h.errorAck(client, "failed to mark conversation as read")
			}
		}

	case model.EventJoinConversation:
		var p model.JoinConversationPayload
		if err := json.Unmarshal(event.Data, &p); err != nil || p.ConversationID == "" {
			h.errorAck(client, "malformed join-conversation payload")
			return
		}
		if err := h.registry.Join(client, p.ConversationID); err != nil {
			h.errorAck(client, err.Error())
		}

	case model.EventLeaveConversation:
		var p model.JoinConversationPayload
		if err := json.Unmarshal(event.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		h.registry.Leave(client, p.ConversationID)
		h.relay.LeftConversation(client, p.ConversationID)

	case model.EventPing:
		pong, err := model.NewEvent(model.EventPong, nil)
		if err == nil {
			client.SendEvent(pong)
		}

	default:
		log.Printf("WS: unknown event type %q from %s", event.Type, client.UserID)
	}
}

// handleNotifications keeps the socket open and consumes pings; all real
// traffic on this namespace is server → client.
func (h *WSHandler) handleNotifications(conn *websocket.Conn) {
	client, ok := h.admit(conn)
	if !ok {
		return
	}
	defer h.registry.Remove(client)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		if event.Type == model.EventPing {
			pong, err := model.NewEvent(model.EventPong, nil)
			if err == nil {
				client.SendEvent(pong)
			}
		}
	}
}

func (h *WSHandler) errorAck(client *service.Client, message string) {
	event, err := model.NewEvent(model.EventError, model.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	client.SendEvent(event)
}

// rejectConn is used before the client ever joins the registry: write the
// error frame directly and close.
func (h *WSHandler) rejectConn(conn *websocket.Conn, message string) {
	event, err := model.NewEvent(model.EventError, model.ErrorPayload{Message: message})
	if err == nil {
		if data, mErr := json.Marshal(event); mErr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = conn.Close()
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		return "message body or attachment required"
	case errors.Is(err, repository.ErrConversationNotFound):
		return "unknown conversation"
	default:
		return "failed to send message"
	}
}
