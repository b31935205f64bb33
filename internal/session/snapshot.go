package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresSnapshotStore persists durable session snapshots. It also folds
// the latest conversation summary into the rehydrated session attributes so
// a cold start recovers long-term context beyond the recent-turn window.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore builds a snapshot store; returns nil when db is
// nil so callers can wire an optional snapshot layer.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	if db == nil {
		return nil
	}
	return &PostgresSnapshotStore{db: db}
}

// Save upserts the snapshot row for the session's conversation.
func (s *PostgresSnapshotStore) Save(ctx context.Context, sess *Session) error {
	if s == nil || s.db == nil || sess == nil {
		return nil
	}

	attrs, err := json.Marshal(sess.Attributes)
	if err != nil {
		return fmt.Errorf("session: marshal attributes: %w", err)
	}
	turns, err := json.Marshal(sess.RecentTurns)
	if err != nil {
		return fmt.Errorf("session: marshal recent turns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (
			conversation_id, last_intent, attributes, recent_turns, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE SET
			last_intent = EXCLUDED.last_intent,
			attributes = EXCLUDED.attributes,
			recent_turns = EXCLUDED.recent_turns,
			updated_at = EXCLUDED.updated_at
	`, sess.ConversationID, sess.LastIntent, attrs, turns, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("session: save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for a conversation, enriched with the stored
// conversation summary when one exists. Returns (nil, nil) when absent.
func (s *PostgresSnapshotStore) Load(ctx context.Context, conversationID string) (*Session, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	var (
		lastIntent  string
		attrs       []byte
		turns       []byte
		createdAt   time.Time
		updatedAt   time.Time
		summaryText sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT ss.last_intent, ss.attributes, ss.recent_turns, ss.created_at, ss.updated_at,
			   cs.summary_text
		FROM session_snapshots ss
		LEFT JOIN conversation_summaries cs ON cs.conversation_id = ss.conversation_id
		WHERE ss.conversation_id = $1
	`, conversationID).Scan(&lastIntent, &attrs, &turns, &createdAt, &updatedAt, &summaryText)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load snapshot: %w", err)
	}

	sess := &Session{
		ConversationID: conversationID,
		LastIntent:     lastIntent,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &sess.Attributes); err != nil {
			return nil, fmt.Errorf("session: decode attributes: %w", err)
		}
	}
	if len(turns) > 0 {
		if err := json.Unmarshal(turns, &sess.RecentTurns); err != nil {
			return nil, fmt.Errorf("session: decode recent turns: %w", err)
		}
	}
	if summaryText.Valid && summaryText.String != "" {
		if sess.Attributes == nil {
			sess.Attributes = make(map[string]string, 1)
		}
		sess.Attributes["summary"] = summaryText.String
	}
	return sess, nil
}
