package model

import "encoding/json"

// Event is the envelope for every frame on both socket namespaces.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client → server event types (chat namespace).
const (
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
	EventMarkAsRead        = "mark-as-read"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventPing              = "ping"
)

// Server → client event types.
const (
	EventReceiveMessage = "receive-message"
	EventUserTyping     = "user-typing"
	EventMessagesRead   = "messages-read"
	EventError          = "error"
	EventPong           = "pong"
	EventNewAppointment = "new-appointment"
)

// NewEvent wraps a payload into an envelope. A payload that cannot be
// marshaled is a programming error, so the error is returned rather than
// silently dropped.
func NewEvent(eventType string, payload any) (*Event, error) {
	if payload == nil {
		return &Event{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, Data: data}, nil
}

type SendMessagePayload struct {
	ConversationID string   `json:"conversationId"`
	Message        string   `json:"message"`
	Attachments    []string `json:"attachments,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkAsReadPayload struct {
	ConversationID string `json:"conversationId"`
}

type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type UserTypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	UserRole       Role   `json:"userRole"`
}

type MessagesReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReaderRole     Role   `json:"readerRole"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type NewAppointmentPayload struct {
	Message     string      `json:"message"`
	Appointment Appointment `json:"appointment"`
}
