package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/medibot/internal/apperr"
	"github.com/clinicware/medibot/internal/intent"
	"github.com/clinicware/medibot/internal/messaging"
	"github.com/clinicware/medibot/internal/patients"
	"github.com/clinicware/medibot/internal/scheduling"
	"github.com/clinicware/medibot/internal/session"
)

type fakeSessions struct {
	state   map[string]*session.Session
	updates []session.Update
	err     error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{state: make(map[string]*session.Session)}
}

func (f *fakeSessions) Update(_ context.Context, id string, u session.Update) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, u)
	sess, ok := f.state[id]
	if !ok {
		sess = &session.Session{ConversationID: id, Attributes: map[string]string{}}
		f.state[id] = sess
	}
	if u.LastIntent != "" {
		sess.LastIntent = u.LastIntent
	}
	if u.Turn != nil {
		sess.RecentTurns = append(sess.RecentTurns, *u.Turn)
	}
	for k, v := range u.Attributes {
		sess.Attributes[k] = v
	}
	return sess, nil
}

type fakeClassifier struct {
	result intent.Result
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) intent.Result {
	return f.result
}

type fakeResponder struct {
	reply  string
	err    error
	called int
	ctxArg map[string]any
}

func (f *fakeResponder) Complete(_ context.Context, _ string, convCtx map[string]any) (string, error) {
	f.called++
	f.ctxArg = convCtx
	return f.reply, f.err
}

type fakeScheduler struct {
	slots   []time.Time
	history []scheduling.Appointment
	err     error
}

func (f *fakeScheduler) AvailableSlots(_ context.Context, _ uuid.UUID, _ time.Time) ([]time.Time, error) {
	return f.slots, f.err
}

func (f *fakeScheduler) History(_ context.Context, _ uuid.UUID, _ int) ([]scheduling.Appointment, error) {
	return f.history, f.err
}

type fakeAudit struct {
	fresh    bool
	inErr    error
	outcomes []messaging.Outcome
}

func (f *fakeAudit) RecordInbound(_ context.Context, _, _, _ string) (bool, error) {
	return f.fresh, f.inErr
}

func (f *fakeAudit) RecordOutcome(_ context.Context, _ string, o messaging.Outcome) error {
	f.outcomes = append(f.outcomes, o)
	return nil
}

type fakeDirectory struct {
	patient *patients.Patient
	err     error
}

func (f *fakeDirectory) EnsureByWhatsApp(_ context.Context, number, lang string) (*patients.Patient, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.patient != nil {
		return f.patient, nil
	}
	return &patients.Patient{ID: uuid.New(), WhatsAppNumber: number, Language: lang}, nil
}

type recordingSender struct {
	sent []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, _, text string) (messaging.SendResult, error) {
	if s.err != nil {
		return messaging.SendResult{}, s.err
	}
	s.sent = append(s.sent, text)
	return messaging.SendResult{MessageID: "out-1"}, nil
}

type deps struct {
	sessions *fakeSessions
	audit    *fakeAudit
	sender   *recordingSender
	llm      *fakeResponder
	sched    *fakeScheduler
}

func newPipeline(t *testing.T, res intent.Result, mutate func(*deps)) (*Pipeline, *deps) {
	t.Helper()
	d := &deps{
		sessions: newFakeSessions(),
		audit:    &fakeAudit{fresh: true},
		sender:   &recordingSender{},
		llm:      &fakeResponder{reply: "Happy to help with that."},
		sched:    &fakeScheduler{},
	}
	if mutate != nil {
		mutate(d)
	}
	p := New(Config{
		Sessions:   d.sessions,
		Classifier: &fakeClassifier{result: res},
		LLM:        d.llm,
		Scheduler:  d.sched,
		Sender:     d.sender,
		Audit:      d.audit,
		Patients:   &fakeDirectory{},
	})
	return p, d
}

func inboundMsg(text string) Inbound {
	return Inbound{
		ConversationID:    "+15550001111",
		ProviderMessageID: "wamid.test.1",
		Text:              text,
		ReceivedAt:        time.Now().UTC(),
	}
}

func TestProcessGreeting(t *testing.T) {
	p, d := newPipeline(t, intent.Result{Intent: intent.Greeting, Confidence: 0.9}, nil)

	handled, err := p.Process(context.Background(), inboundMsg("hello"))
	require.NoError(t, err)
	assert.Equal(t, intent.Greeting, handled.Intent)
	assert.True(t, handled.Sent)
	assert.False(t, handled.UsedLLM)

	require.Len(t, d.sender.sent, 1)
	assert.Contains(t, d.sender.sent[0], "book, cancel, or check")

	// User turn, then assistant turn after the send succeeded.
	require.Len(t, d.sessions.updates, 2)
	assert.Equal(t, "user", d.sessions.updates[0].Turn.Role)
	assert.Equal(t, "assistant", d.sessions.updates[1].Turn.Role)

	require.Len(t, d.audit.outcomes, 1)
	assert.Equal(t, "greeting", d.audit.outcomes[0].Intent)
	assert.True(t, d.audit.outcomes[0].SendOK)
}

func TestProcessDuplicateDropped(t *testing.T) {
	p, d := newPipeline(t, intent.Result{Intent: intent.Greeting}, func(d *deps) {
		d.audit.fresh = false
	})

	handled, err := p.Process(context.Background(), inboundMsg("hello"))
	require.NoError(t, err)
	assert.True(t, handled.Duplicate)
	assert.Empty(t, d.sender.sent)
	assert.Empty(t, d.audit.outcomes)
}

func TestMedicalAdviceGetsCannedReplyWithoutLLM(t *testing.T) {
	p, d := newPipeline(t, intent.Result{Intent: intent.MedicalAdvice, Confidence: 0.95}, nil)

	handled, err := p.Process(context.Background(), inboundMsg("what should I do about this rash"))
	require.NoError(t, err)
	assert.Equal(t, safetyReply, handled.Reply)
	assert.False(t, handled.UsedLLM)
	assert.Equal(t, 0, d.llm.called)
}

func TestGeneratedAdviceIsOverridden(t *testing.T) {
	p, d := newPipeline(t, intent.Result{Intent: intent.Unknown, Confidence: 0.2}, func(d *deps) {
		d.llm.reply = "You should take 400 mg of ibuprofen twice a day."
	})

	handled, err := p.Process(context.Background(), inboundMsg("my knee hurts after the gym"))
	require.NoError(t, err)
	assert.Equal(t, safetyReply, handled.Reply)
	assert.True(t, handled.UsedLLM)
	require.Len(t, d.sender.sent, 1)
	assert.Equal(t, safetyReply, d.sender.sent[0])
}

func TestAvailabilityReplyListsSlots(t *testing.T) {
	providerID := uuid.New()
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	p, d := newPipeline(t, intent.Result{
		Intent:     intent.CheckAvailability,
		Confidence: 0.8,
		Entities: map[string]string{
			"provider_id": providerID.String(),
			"date":        "2026-08-31",
		},
	}, func(d *deps) {
		d.sched.slots = []time.Time{day.Add(9 * time.Hour), day.Add(9*time.Hour + 30*time.Minute)}
	})

	handled, err := p.Process(context.Background(), inboundMsg("any free slots?"))
	require.NoError(t, err)
	assert.Contains(t, handled.Reply, "09:00, 09:30")
	require.Len(t, d.sender.sent, 1)
}

func TestAvailabilityWithoutDetailsAsksForThem(t *testing.T) {
	p, _ := newPipeline(t, intent.Result{Intent: intent.CheckAvailability, Confidence: 0.8}, nil)

	handled, err := p.Process(context.Background(), inboundMsg("any free slots?"))
	require.NoError(t, err)
	assert.Contains(t, handled.Reply, "which provider")
}

func TestLLMFailureDegradesApology(t *testing.T) {
	p, d := newPipeline(t, intent.Result{Intent: intent.Unknown, Confidence: 0.1}, func(d *deps) {
		d.llm.err = apperr.ProviderUnavailable("model timeout", errors.New("deadline exceeded"))
	})

	handled, err := p.Process(context.Background(), inboundMsg("asdf qwerty"))
	require.NoError(t, err)
	assert.Equal(t, apologyReply, handled.Reply)
	assert.True(t, handled.Sent)
	require.Len(t, d.audit.outcomes, 1)
	assert.Equal(t, apologyReply, d.audit.outcomes[0].ReplyBody)
}

func TestSendFailureRecordedInOutcome(t *testing.T) {
	p, d := newPipeline(t, intent.Result{Intent: intent.Greeting, Confidence: 0.9}, func(d *deps) {
		d.sender.err = apperr.ProviderUnavailable("gateway down", nil)
	})

	handled, err := p.Process(context.Background(), inboundMsg("hello"))
	require.NoError(t, err)
	assert.False(t, handled.Sent)

	// Only the user turn: no assistant turn is appended for a failed send.
	require.Len(t, d.sessions.updates, 1)

	require.Len(t, d.audit.outcomes, 1)
	assert.False(t, d.audit.outcomes[0].SendOK)
}

func TestInboundRecordFailureIsRetryable(t *testing.T) {
	p, _ := newPipeline(t, intent.Result{Intent: intent.Greeting}, func(d *deps) {
		d.audit.inErr = errors.New("db down")
	})

	_, err := p.Process(context.Background(), inboundMsg("hello"))
	require.Error(t, err)
}

func TestSessionContextFlowsToLLM(t *testing.T) {
	p, d := newPipeline(t, intent.Result{Intent: intent.Unknown, Confidence: 0.1}, nil)
	_, err := p.sessions.Update(context.Background(), "+15550001111", session.Update{
		LastIntent: "booking",
		Attributes: map[string]string{"summary": "patient asked about laser treatment"},
	})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), inboundMsg("and how long does it take?"))
	require.NoError(t, err)
	require.NotNil(t, d.llm.ctxArg)
	assert.Equal(t, "patient asked about laser treatment", d.llm.ctxArg["conversation_summary"])
}
