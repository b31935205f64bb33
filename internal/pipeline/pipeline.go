// Package pipeline drives the handling of one inbound patient message:
// dedup, intent classification, session update, reply decision, outbound
// send, and audit recording.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicware/medibot/internal/intent"
	"github.com/clinicware/medibot/internal/messaging"
	"github.com/clinicware/medibot/internal/observability/metrics"
	"github.com/clinicware/medibot/internal/patients"
	"github.com/clinicware/medibot/internal/scheduling"
	"github.com/clinicware/medibot/internal/session"
	"github.com/clinicware/medibot/pkg/logging"
)

// apologyReply is sent when handling fails after the message was accepted.
const apologyReply = "Sorry, something went wrong on our side. Please try again in a moment."

type sessionStore interface {
	Update(ctx context.Context, conversationID string, u session.Update) (*session.Session, error)
}

type intentClassifier interface {
	Classify(ctx context.Context, text string) intent.Result
}

type responder interface {
	Complete(ctx context.Context, prompt string, convCtx map[string]any) (string, error)
}

type slotSource interface {
	AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]time.Time, error)
	History(ctx context.Context, patientID uuid.UUID, limit int) ([]scheduling.Appointment, error)
}

type auditStore interface {
	RecordInbound(ctx context.Context, conversationID, providerMessageID, body string) (bool, error)
	RecordOutcome(ctx context.Context, providerMessageID string, outcome messaging.Outcome) error
}

type patientDirectory interface {
	EnsureByWhatsApp(ctx context.Context, number, defaultLanguage string) (*patients.Patient, error)
}

// Inbound is one received patient message.
type Inbound struct {
	ConversationID    string // the patient's WhatsApp number
	ProviderMessageID string
	Text              string
	ReceivedAt        time.Time
}

// Handled reports how an inbound message was resolved.
type Handled struct {
	Duplicate bool
	Intent    intent.Intent
	UsedLLM   bool
	Reply     string
	Sent      bool
}

// Pipeline wires the per-message handling stages together.
type Pipeline struct {
	sessions        sessionStore
	classifier      intentClassifier
	llm             responder
	scheduler       slotSource
	sender          messaging.ChannelSender
	audit           auditStore
	patients        patientDirectory
	metrics         *metrics.PipelineMetrics
	logger          *logging.Logger
	defaultLanguage string
}

// Config carries the pipeline's collaborators. Metrics may be nil.
type Config struct {
	Sessions        sessionStore
	Classifier      intentClassifier
	LLM             responder
	Scheduler       slotSource
	Sender          messaging.ChannelSender
	Audit           auditStore
	Patients        patientDirectory
	Metrics         *metrics.PipelineMetrics
	Logger          *logging.Logger
	DefaultLanguage string
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Sessions == nil || cfg.Classifier == nil || cfg.LLM == nil ||
		cfg.Scheduler == nil || cfg.Sender == nil || cfg.Audit == nil || cfg.Patients == nil {
		panic("pipeline: missing required collaborator")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	return &Pipeline{
		sessions:        cfg.Sessions,
		classifier:      cfg.Classifier,
		llm:             cfg.LLM,
		scheduler:       cfg.Scheduler,
		sender:          cfg.Sender,
		audit:           cfg.Audit,
		patients:        cfg.Patients,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		defaultLanguage: cfg.DefaultLanguage,
	}
}

// Process handles one inbound message end to end. Redelivered messages are
// detected by provider message ID and dropped without side effects. Failures
// after acceptance degrade to an apology reply rather than silence; only a
// failure to record the inbound message returns an error, since nothing has
// happened yet and the delivery can be retried safely.
func (p *Pipeline) Process(ctx context.Context, in Inbound) (Handled, error) {
	started := time.Now()

	fresh, err := p.audit.RecordInbound(ctx, in.ConversationID, in.ProviderMessageID, in.Text)
	if err != nil {
		return Handled{}, err
	}
	if !fresh {
		p.logger.Info("duplicate message dropped", "provider_message_id", in.ProviderMessageID)
		p.metrics.ObserveMessage("duplicate")
		return Handled{Duplicate: true}, nil
	}

	patient, err := p.patients.EnsureByWhatsApp(ctx, in.ConversationID, p.defaultLanguage)
	if err != nil {
		p.logger.Error("patient lookup failed", "conversation_id", in.ConversationID, "error", err)
	}

	res := p.classifier.Classify(ctx, in.Text)
	p.metrics.ObserveIntent(string(res.Intent), res.UsedLLM)

	sess, err := p.sessions.Update(ctx, in.ConversationID, session.Update{
		LastIntent: string(res.Intent),
		Turn:       &session.Turn{Role: "user", Text: in.Text, At: in.ReceivedAt},
		Attributes: res.Entities,
	})
	if err != nil {
		p.logger.Error("session update failed", "conversation_id", in.ConversationID, "error", err)
	}

	reply, usedLLMReply, decideErr := p.decideReply(ctx, in, sess, patient, res)
	status := "ok"
	if decideErr != nil {
		p.logger.Error("reply decision failed", "conversation_id", in.ConversationID,
			"intent", res.Intent, "error", decideErr)
		reply = apologyReply
		status = "degraded"
	}

	if usedLLMReply {
		if reasons := scanReplyForAdvice(reply); len(reasons) > 0 {
			p.logger.Warn("generated reply blocked by advice scan",
				"conversation_id", in.ConversationID, "reasons", strings.Join(reasons, ","))
			reply = safetyReply
		}
	}

	_, sendErr := p.sender.Send(ctx, in.ConversationID, reply)
	sent := sendErr == nil
	if sendErr != nil {
		p.logger.Error("reply send failed", "conversation_id", in.ConversationID, "error", sendErr)
		status = "send_failed"
	} else {
		if _, err := p.sessions.Update(ctx, in.ConversationID, session.Update{
			Turn: &session.Turn{Role: "assistant", Text: reply, At: time.Now().UTC()},
		}); err != nil {
			p.logger.Error("session reply append failed", "conversation_id", in.ConversationID, "error", err)
		}
	}

	if err := p.audit.RecordOutcome(ctx, in.ProviderMessageID, messaging.Outcome{
		Intent:     string(res.Intent),
		Confidence: res.Confidence,
		UsedLLM:    res.UsedLLM || usedLLMReply,
		ReplyBody:  reply,
		SendOK:     sent,
	}); err != nil {
		p.logger.Error("outcome record failed", "provider_message_id", in.ProviderMessageID, "error", err)
	}

	p.metrics.ObserveMessage(status)
	p.metrics.ObserveHandlingLatency(string(res.Intent), time.Since(started).Seconds())

	return Handled{
		Intent:  res.Intent,
		UsedLLM: res.UsedLLM || usedLLMReply,
		Reply:   reply,
		Sent:    sent,
	}, nil
}

// decideReply picks the outbound reply for a classified message. The second
// return value reports whether the language model produced the reply text.
func (p *Pipeline) decideReply(ctx context.Context, in Inbound, sess *session.Session, patient *patients.Patient, res intent.Result) (string, bool, error) {
	switch res.Intent {
	case intent.Greeting:
		return "Hello! I can help you book, cancel, or check appointment availability. What would you like to do?", false, nil

	case intent.MedicalAdvice:
		return safetyReply, false, nil

	case intent.Booking:
		return "I can book that for you. Which provider would you like to see, and on what date?", false, nil

	case intent.CancelBooking:
		return "I can help with cancelling. Please send the appointment reference from your confirmation, " +
			"and note that cancellations need at least 24 hours notice.", false, nil

	case intent.CheckAvailability:
		return p.availabilityReply(ctx, sess, res)

	case intent.PatientHistory:
		return p.historyReply(ctx, patient)

	default:
		convCtx := conversationContext(sess)
		reply, err := p.llm.Complete(ctx, in.Text, convCtx)
		if err != nil {
			return "", false, err
		}
		return reply, true, nil
	}
}

func (p *Pipeline) availabilityReply(ctx context.Context, sess *session.Session, res intent.Result) (string, bool, error) {
	providerRaw := lookupEntity(sess, res, "provider_id")
	dateRaw := lookupEntity(sess, res, "date")
	if providerRaw == "" || dateRaw == "" {
		return "Sure - which provider and what date should I check? Please send the date as YYYY-MM-DD.", false, nil
	}

	providerID, err := uuid.Parse(providerRaw)
	if err != nil {
		return "I couldn't match that provider. Could you tell me the provider again?", false, nil
	}
	date, err := time.Parse("2006-01-02", dateRaw)
	if err != nil {
		return "I couldn't read that date. Please send it as YYYY-MM-DD.", false, nil
	}

	slots, err := p.scheduler.AvailableSlots(ctx, providerID, date)
	if err != nil {
		return "", false, err
	}
	if len(slots) == 0 {
		return fmt.Sprintf("There are no open slots on %s. Would you like me to check another day?", dateRaw), false, nil
	}

	times := make([]string, len(slots))
	for i, s := range slots {
		times[i] = s.Format("15:04")
	}
	return fmt.Sprintf("Open times on %s: %s. Reply with a time to book it.", dateRaw, strings.Join(times, ", ")), false, nil
}

func (p *Pipeline) historyReply(ctx context.Context, patient *patients.Patient) (string, bool, error) {
	if patient == nil {
		return "I couldn't find your records. Please contact the clinic to link your number.", false, nil
	}
	appts, err := p.scheduler.History(ctx, patient.ID, 5)
	if err != nil {
		return "", false, err
	}
	if len(appts) == 0 {
		return "You have no appointments on record yet.", false, nil
	}

	lines := make([]string, 0, len(appts)+1)
	lines = append(lines, "Your recent appointments:")
	for _, a := range appts {
		lines = append(lines, fmt.Sprintf("- %s (%s)", a.SlotStart.Format("Mon 2 Jan 15:04"), a.Status))
	}
	return strings.Join(lines, "\n"), false, nil
}

// conversationContext assembles the session-derived context handed to the
// language model for free-form replies.
func conversationContext(sess *session.Session) map[string]any {
	if sess == nil {
		return nil
	}
	ctx := map[string]any{}
	if sess.LastIntent != "" {
		ctx["last_intent"] = sess.LastIntent
	}
	if summary, ok := sess.Attributes["summary"]; ok {
		ctx["conversation_summary"] = summary
	}
	if len(sess.RecentTurns) > 0 {
		turns := make([]string, len(sess.RecentTurns))
		for i, t := range sess.RecentTurns {
			turns[i] = t.Role + ": " + t.Text
		}
		ctx["recent_turns"] = strings.Join(turns, "\n")
	}
	return ctx
}

// lookupEntity prefers a freshly extracted entity over a remembered session
// attribute of the same name.
func lookupEntity(sess *session.Session, res intent.Result, key string) string {
	if v, ok := res.Entities[key]; ok && v != "" {
		return v
	}
	if sess != nil {
		return sess.Attributes[key]
	}
	return ""
}
