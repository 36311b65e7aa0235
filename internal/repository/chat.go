package repository

import (
	"context"
	"errors"
	"fmt"

	"garage-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConversationNotFound is returned when a message targets a conversation
// that does not exist and the draft does not allow lazy creation.
var ErrConversationNotFound = errors.New("conversation not found")

const snippetLen = 120

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// AppendMessage stores a message and updates its conversation in one
// transaction: lazy-create the conversation when allowed, refresh the
// last-message snippet, and bump the recipient side's unread counter unless
// the row is born already read.
func (r *ChatRepository) AppendMessage(ctx context.Context, draft model.MessageDraft) (*model.Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if draft.AllowCreate {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversations (id, customer_name, last_message, last_message_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET
				last_message = EXCLUDED.last_message,
				last_message_at = NOW(),
				customer_name = CASE
					WHEN EXCLUDED.customer_name <> '' THEN EXCLUDED.customer_name
					ELSE conversations.customer_name
				END
		`, draft.ConversationID, draft.CustomerName, snippet(draft.Body))
		if err != nil {
			return nil, fmt.Errorf("upsert conversation: %w", err)
		}
	} else {
		res, err := tx.Exec(ctx, `
			UPDATE conversations
			SET last_message = $2, last_message_at = NOW()
			WHERE id = $1
		`, draft.ConversationID, snippet(draft.Body))
		if err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
		if res.RowsAffected() == 0 {
			return nil, ErrConversationNotFound
		}
	}

	if !draft.MarkRead {
		counter := "unread_admin"
		if draft.SenderRole.Side() == model.RoleAdmin {
			counter = "unread_user"
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE conversations SET %s = %s + 1 WHERE id = $1
		`, counter, counter), draft.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("bump unread: %w", err)
		}
	}

	msg := &model.Message{
		ID:             uuid.New(),
		ConversationID: draft.ConversationID,
		SenderRole:     draft.SenderRole.Side(),
		Body:           draft.Body,
		Attachments:    draft.Attachments,
		IsRead:         draft.MarkRead,
	}
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_role, body, attachments, is_read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, msg.ID, msg.ConversationID, msg.SenderRole, msg.Body, msg.Attachments, msg.IsRead).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// MarkMessagesRead flips every unread message addressed to readerRole and
// resets that side's unread counter. Returns the number of flipped rows, or
// ErrConversationNotFound for a conversation id that was never created.
func (r *ChatRepository) MarkMessagesRead(ctx context.Context, conversationID string, readerRole model.Role) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1`, conversationID).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, ErrConversationNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("check conversation: %w", err)
	}

	// Messages addressed to the reader are the ones the counterpart sent.
	res, err := tx.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_role = $2 AND NOT is_read
	`, conversationID, readerRole.Counterpart())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	counter := "unread_user"
	if readerRole.Side() == model.RoleAdmin {
		counter = "unread_admin"
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE conversations SET %s = 0 WHERE id = $1
	`, counter), conversationID)
	if err != nil {
		return 0, fmt.Errorf("reset unread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return res.RowsAffected(), nil
}

// GetHistory retrieves the newest messages of a conversation in chronological
// order (oldest first).
func (r *ChatRepository) GetHistory(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	// Select newest N rows DESC, then reverse for chronological order
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, sender_role, body, attachments, is_read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderRole, &m.Body, &m.Attachments, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Attachments == nil {
			m.Attachments = []string{}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListConversations returns conversation summaries sorted by last activity,
// most recent first.
func (r *ChatRepository) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_name, last_message, COALESCE(last_message_at, created_at),
		       unread_admin, unread_user, created_at
		FROM conversations
		ORDER BY COALESCE(last_message_at, created_at) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []model.ConversationSummary
	for rows.Next() {
		var c model.ConversationSummary
		if err := rows.Scan(&c.ID, &c.CustomerName, &c.LastMessage, &c.LastMessageAt,
			&c.UnreadAdmin, &c.UnreadUser, &c.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteOlderThan removes messages older than the given number of days.
// Returns the number of deleted rows.
func (r *ChatRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM messages WHERE created_at < NOW() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// snippet truncates by runes so multibyte text is never split mid-character.
func snippet(body string) string {
	runes := []rune(body)
	if len(runes) <= snippetLen {
		return body
	}
	return string(runes[:snippetLen])
}
