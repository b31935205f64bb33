package messaging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one audited inbound message together with the outcome of
// handling it.
type Message struct {
	ID                uuid.UUID
	ConversationID    string
	ProviderMessageID string
	Direction         string
	Body              string
	Intent            string
	Confidence        float64
	UsedLLM           bool
	ReplyBody         string
	SendOK            bool
	CreatedAt         time.Time
}

// Outcome records how an inbound message was handled.
type Outcome struct {
	Intent     string
	Confidence float64
	UsedLLM    bool
	ReplyBody  string
	SendOK     bool
}

// Store persists the message audit trail. The provider_message_id column is
// unique, which makes inbound recording the dedup point for webhook
// redeliveries.
type Store struct {
	db *sql.DB
}

// NewStore creates a message audit store.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("messaging: db required")
	}
	return &Store{db: db}
}

// RecordInbound stores an inbound message. It returns false when the
// provider message ID was already recorded, signalling a duplicate delivery
// that must not be processed again.
func (s *Store) RecordInbound(ctx context.Context, conversationID, providerMessageID, body string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, provider_message_id, direction, body, created_at)
		VALUES ($1, $2, $3, 'inbound', $4, $5)
		ON CONFLICT (provider_message_id) DO NOTHING
	`, uuid.New(), conversationID, providerMessageID, body, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("messaging: record inbound: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("messaging: record inbound rows: %w", err)
	}
	return n > 0, nil
}

// RecordOutcome attaches the handling outcome to a previously recorded
// inbound message.
func (s *Store) RecordOutcome(ctx context.Context, providerMessageID string, outcome Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET intent = $1, confidence = $2, used_llm = $3, reply_body = $4, send_ok = $5
		WHERE provider_message_id = $6
	`, outcome.Intent, outcome.Confidence, outcome.UsedLLM, outcome.ReplyBody, outcome.SendOK, providerMessageID)
	if err != nil {
		return fmt.Errorf("messaging: record outcome: %w", err)
	}
	return nil
}

// ListSince returns a conversation's messages created at or after a cutoff,
// oldest first.
func (s *Store) ListSince(ctx context.Context, conversationID string, since time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, provider_message_id, direction, body,
		       COALESCE(intent, ''), COALESCE(confidence, 0), COALESCE(used_llm, false),
		       COALESCE(reply_body, ''), COALESCE(send_ok, false), created_at
		FROM messages
		WHERE conversation_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, conversationID, since)
	if err != nil {
		return nil, fmt.Errorf("messaging: list since: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ProviderMessageID, &m.Direction, &m.Body,
			&m.Intent, &m.Confidence, &m.UsedLLM, &m.ReplyBody, &m.SendOK, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging: list since: %w", err)
	}
	return msgs, nil
}
