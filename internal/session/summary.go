package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Summary is the stored long-term digest of one conversation.
type Summary struct {
	ConversationID string
	SummaryText    string
	KeyPoints      []string
	UpdatedAt      time.Time
}

// SummaryStore persists conversation summaries produced by the summarizer
// worker. Snapshot loads fold the summary back into session attributes.
type SummaryStore struct {
	db *sql.DB
}

// NewSummaryStore creates a summary store.
func NewSummaryStore(db *sql.DB) *SummaryStore {
	if db == nil {
		panic("session: db required")
	}
	return &SummaryStore{db: db}
}

// Upsert replaces the summary for a conversation.
func (s *SummaryStore) Upsert(ctx context.Context, conversationID, summaryText string, keyPoints []string) error {
	points, err := json.Marshal(keyPoints)
	if err != nil {
		return fmt.Errorf("session: marshal key points: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_summaries (conversation_id, summary_text, key_points, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET
			summary_text = EXCLUDED.summary_text,
			key_points = EXCLUDED.key_points,
			updated_at = EXCLUDED.updated_at
	`, conversationID, summaryText, points, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("session: upsert summary: %w", err)
	}
	return nil
}

// Get returns the summary for a conversation, or (nil, nil) when absent.
func (s *SummaryStore) Get(ctx context.Context, conversationID string) (*Summary, error) {
	var sum Summary
	var points []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, summary_text, key_points, updated_at
		FROM conversation_summaries
		WHERE conversation_id = $1
	`, conversationID).Scan(&sum.ConversationID, &sum.SummaryText, &points, &sum.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get summary: %w", err)
	}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &sum.KeyPoints); err != nil {
			return nil, fmt.Errorf("session: decode key points: %w", err)
		}
	}
	return &sum, nil
}
