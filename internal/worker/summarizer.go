package worker

import (
	"context"
	"strings"
	"time"

	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/messaging"
	"github.com/clinicware/medibot/pkg/logging"
)

// SummarizeJob asks for a digest of one conversation's recent messages.
type SummarizeJob struct {
	ConversationID string    `json:"conversationId"`
	Since          time.Time `json:"since"`
}

type messageLister interface {
	ListSince(ctx context.Context, conversationID string, since time.Time) ([]messaging.Message, error)
}

type summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type summaryWriter interface {
	Upsert(ctx context.Context, conversationID, summaryText string, keyPoints []string) error
}

// SummarizerDeps carries the summarizer handler's collaborators.
type SummarizerDeps struct {
	Messages  messageLister
	LLM       summarizer
	Summaries summaryWriter
	Logger    *logging.Logger
}

// NewSummarizerHandler returns the handler that condenses a conversation
// into a stored summary. An empty transcript resolves as a successful no-op.
func NewSummarizerHandler(deps SummarizerDeps) jobs.Handler {
	if deps.Messages == nil || deps.LLM == nil || deps.Summaries == nil {
		panic("worker: missing summarizer dependency")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	return func(ctx context.Context, env *jobs.Envelope) error {
		var job SummarizeJob
		if err := env.Decode(&job); err != nil {
			deps.Logger.Error("summarize job undecodable", "job_id", env.JobID, "error", err)
			return nil
		}

		msgs, err := deps.Messages.ListSince(ctx, job.ConversationID, job.Since)
		if err != nil {
			return err
		}
		transcript := buildTranscript(msgs)
		if transcript == "" {
			deps.Logger.Debug("summarize skipped: empty transcript", "conversation_id", job.ConversationID)
			return nil
		}

		summaryText, err := deps.LLM.Summarize(ctx, transcript)
		if err != nil {
			return err
		}

		if err := deps.Summaries.Upsert(ctx, job.ConversationID, summaryText, keyPoints(summaryText)); err != nil {
			return err
		}

		deps.Logger.Info("conversation summarized", "conversation_id", job.ConversationID,
			"messages", len(msgs))
		return nil
	}
}

// buildTranscript renders messages as role-tagged lines: the patient's
// inbound text and the bot's recorded reply for each exchange.
func buildTranscript(msgs []messaging.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Body != "" {
			b.WriteString("patient: ")
			b.WriteString(m.Body)
			b.WriteString("\n")
		}
		if m.ReplyBody != "" {
			b.WriteString("assistant: ")
			b.WriteString(m.ReplyBody)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// keyPoints splits a summary into sentence-level points.
func keyPoints(summary string) []string {
	parts := strings.Split(summary, ". ")
	points := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimSuffix(p, "."))
		if p != "" {
			points = append(points, p)
		}
	}
	return points
}
