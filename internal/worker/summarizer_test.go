package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/messaging"
)

type fakeMessages struct {
	msgs []messaging.Message
}

func (f *fakeMessages) ListSince(_ context.Context, _ string, _ time.Time) ([]messaging.Message, error) {
	return f.msgs, nil
}

type fakeSummarizer struct {
	summary    string
	transcript string
	calls      int
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls++
	f.transcript = text
	return f.summary, nil
}

type fakeSummaries struct {
	conversationID string
	text           string
	points         []string
}

func (f *fakeSummaries) Upsert(_ context.Context, conversationID, summaryText string, keyPoints []string) error {
	f.conversationID = conversationID
	f.text = summaryText
	f.points = keyPoints
	return nil
}

func summarizeEnvelope(t *testing.T, job SummarizeJob) *jobs.Envelope {
	t.Helper()
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	return &jobs.Envelope{JobID: "job-1", Queue: jobs.QueueSummarize, Payload: raw, MaxAttempts: 3}
}

func TestSummarizerStoresSummaryAndKeyPoints(t *testing.T) {
	msgs := &fakeMessages{msgs: []messaging.Message{
		{Body: "can I book a visit", ReplyBody: "Which provider would you like to see?"},
		{Body: "dr reyes on monday", ReplyBody: "Open times on 2026-08-31: 09:00, 09:30."},
	}}
	llm := &fakeSummarizer{summary: "Patient wants a Monday visit with Dr. Reyes. Slot list was offered."}
	sums := &fakeSummaries{}

	handler := NewSummarizerHandler(SummarizerDeps{Messages: msgs, LLM: llm, Summaries: sums})
	err := handler(context.Background(), summarizeEnvelope(t, SummarizeJob{
		ConversationID: "+15550001111",
		Since:          time.Now().Add(-time.Hour),
	}))
	require.NoError(t, err)

	assert.Contains(t, llm.transcript, "patient: can I book a visit")
	assert.Contains(t, llm.transcript, "assistant: Which provider would you like to see?")

	assert.Equal(t, "+15550001111", sums.conversationID)
	assert.Equal(t, llm.summary, sums.text)
	assert.Equal(t, []string{
		"Patient wants a Monday visit with Dr. Reyes",
		"Slot list was offered",
	}, sums.points)
}

func TestSummarizerEmptyTranscriptIsNoOp(t *testing.T) {
	llm := &fakeSummarizer{summary: "unused"}
	sums := &fakeSummaries{}

	handler := NewSummarizerHandler(SummarizerDeps{Messages: &fakeMessages{}, LLM: llm, Summaries: sums})
	err := handler(context.Background(), summarizeEnvelope(t, SummarizeJob{ConversationID: "+1555"}))
	require.NoError(t, err)
	assert.Equal(t, 0, llm.calls)
	assert.Empty(t, sums.text)
}
