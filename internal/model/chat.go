package model

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a stored chat message row. Immutable once written except
// for IsRead.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderRole     Role      `json:"senderRole"`
	Body           string    `json:"message"`
	Attachments    []string  `json:"attachments"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageDraft is the payload for appending a new message. CustomerName is
// only used when the conversation is lazily created on first contact;
// MarkRead is set when the recipient side is actively viewing the
// conversation so the row is born already read.
type MessageDraft struct {
	ConversationID string
	CustomerName   string
	SenderRole     Role
	Body           string
	Attachments    []string
	MarkRead       bool
	AllowCreate    bool
}

// ConversationSummary is one row of the admin conversation list.
type ConversationSummary struct {
	ID            string    `json:"id"`
	CustomerName  string    `json:"customerName"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadAdmin   int       `json:"unreadAdmin"`
	UnreadUser    int       `json:"unreadUser"`
	CreatedAt     time.Time `json:"createdAt"`
}
