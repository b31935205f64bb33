// Package worker holds the job handlers run by the background runner pool:
// inbound conversation processing, appointment reminders, conversation
// summarization, and channel session refresh.
package worker

import (
	"context"
	"time"

	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/pipeline"
	"github.com/clinicware/medibot/pkg/logging"
)

// ConversationJob is the payload of a queued inbound message.
type ConversationJob struct {
	ConversationID    string    `json:"conversationId"`
	ProviderMessageID string    `json:"providerMessageId"`
	Text              string    `json:"text"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

type summaryScheduler interface {
	Enqueue(ctx context.Context, queue string, payload any, opts ...jobs.EnqueueOption) (string, error)
}

// ConversationOption customizes the conversation handler.
type ConversationOption func(*conversationConfig)

type conversationConfig struct {
	summaries    summaryScheduler
	summaryDelay time.Duration
	summaryBack  time.Duration
}

// WithSummarySchedule enqueues a deferred summarize job after each handled
// message, covering the trailing lookback window. The summary upsert is
// idempotent, so overlapping jobs from a busy conversation are harmless.
func WithSummarySchedule(enq summaryScheduler, delay, lookback time.Duration) ConversationOption {
	return func(cfg *conversationConfig) {
		cfg.summaries = enq
		cfg.summaryDelay = delay
		cfg.summaryBack = lookback
	}
}

// NewConversationHandler returns the handler that drives the message
// pipeline for queued inbound messages.
func NewConversationHandler(p *pipeline.Pipeline, logger *logging.Logger, opts ...ConversationOption) jobs.Handler {
	if p == nil {
		panic("worker: pipeline required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := conversationConfig{
		summaryDelay: 5 * time.Minute,
		summaryBack:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, env *jobs.Envelope) error {
		var job ConversationJob
		if err := env.Decode(&job); err != nil {
			logger.Error("conversation job undecodable", "job_id", env.JobID, "error", err)
			// Malformed payloads never become valid; do not retry.
			return nil
		}

		handled, err := p.Process(ctx, pipeline.Inbound{
			ConversationID:    job.ConversationID,
			ProviderMessageID: job.ProviderMessageID,
			Text:              job.Text,
			ReceivedAt:        job.ReceivedAt,
		})
		if err != nil {
			return err
		}
		if handled.Duplicate {
			logger.Debug("conversation job was duplicate", "job_id", env.JobID)
			return nil
		}

		if cfg.summaries != nil {
			_, err := cfg.summaries.Enqueue(ctx, jobs.QueueSummarize, SummarizeJob{
				ConversationID: job.ConversationID,
				Since:          time.Now().UTC().Add(-cfg.summaryBack),
			}, jobs.WithDelay(cfg.summaryDelay))
			if err != nil {
				logger.Error("failed to schedule summary", "conversation_id", job.ConversationID, "error", err)
			}
		}
		return nil
	}
}
