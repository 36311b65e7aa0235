package handler

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	"garage-backend/internal/cache"
	"garage-backend/internal/model"
	"garage-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

const conversationsCacheTTL = 5 * time.Second

// ChatHandler is the backfill gateway: plain request/response against the
// same store the relay writes through, so a client that just received a live
// event always finds it here too.
type ChatHandler struct {
	store service.ChatStore
	cache *cache.Cache
}

func NewChatHandler(store service.ChatStore, c *cache.Cache) *ChatHandler {
	return &ChatHandler{store: store, cache: c}
}

// GetHistory returns a conversation's messages in chronological order.
// GET /api/v1/chat/messages/:conversationId
func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	conversationID := c.Params("conversationId")
	if conversationID == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "conversation id required"})
	}

	role, _ := c.Locals("role").(model.Role)
	userID, _ := c.Locals("user_id").(string)

	// Customers can only read their own conversation.
	if !role.Privileged() && conversationID != userID {
		return c.Status(403).JSON(fiber.Map{"success": false, "error": "forbidden"})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "200"))

	msgs, err := h.store.GetHistory(c.Context(), conversationID, limit)
	if err != nil {
		log.Printf("[Chat] GetHistory %s: %v", conversationID, err)
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "failed to get history"})
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return c.JSON(fiber.Map{"success": true, "messages": msgs})
}

// ListConversations returns summaries sorted by last activity, staff only.
// GET /api/v1/chat/conversations
func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	role, _ := c.Locals("role").(model.Role)
	if !role.Privileged() {
		return c.Status(403).JSON(fiber.Map{"success": false, "error": "forbidden"})
	}

	ctx := c.Context()
	if cached, ok := h.cache.Get(ctx, service.ConversationsCacheKey); ok {
		c.Set("Content-Type", "application/json")
		return c.SendString(cached)
	}

	convs, err := h.store.ListConversations(ctx)
	if err != nil {
		log.Printf("[Chat] ListConversations: %v", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "failed to list conversations"})
	}
	if convs == nil {
		convs = []model.ConversationSummary{}
	}

	body, err := json.Marshal(fiber.Map{"success": true, "conversations": convs})
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "failed to list conversations"})
	}
	h.cache.Set(ctx, service.ConversationsCacheKey, string(body), conversationsCacheTTL)

	c.Set("Content-Type", "application/json")
	return c.Send(body)
}
