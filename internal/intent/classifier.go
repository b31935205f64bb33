// Package intent maps inbound message text to a member of the closed
// intent set. A deterministic rule pass runs first; low-confidence results
// escalate to the language model, degrading back to the local guess when
// the model is unavailable or returns garbage.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/clinicware/medibot/internal/llm"
	"github.com/clinicware/medibot/pkg/logging"
)

// Intent is a member of the closed intent set.
type Intent string

const (
	Greeting          Intent = "greeting"
	Booking           Intent = "booking"
	CancelBooking     Intent = "cancel_booking"
	CheckAvailability Intent = "check_availability"
	MedicalAdvice     Intent = "medical_advice"
	PatientHistory    Intent = "get_patient_history"
	Unknown           Intent = "unknown"
)

var knownIntents = map[Intent]struct{}{
	Greeting:          {},
	Booking:           {},
	CancelBooking:     {},
	CheckAvailability: {},
	MedicalAdvice:     {},
	PatientHistory:    {},
	Unknown:           {},
}

// Result is the classification outcome for one message.
type Result struct {
	Intent     Intent            `json:"intent"`
	Entities   map[string]string `json:"entities,omitempty"`
	Confidence float64           `json:"confidence"`
	UsedLLM    bool              `json:"-"`
}

// Rule is one deterministic classification rule. Rules are evaluated in
// order; the first match wins and each rule fires at most once.
type Rule struct {
	Intent     Intent
	Pattern    *regexp.Regexp
	Confidence float64
}

// DefaultRules returns the built-in rule set in its stable priority order:
// greeting, booking, cancel, availability, medical-advice, history.
func DefaultRules() []Rule {
	return []Rule{
		{Greeting, regexp.MustCompile(`(?i)\b(hello|hi|hey)\b`), 0.9},
		{Booking, regexp.MustCompile(`(?i)\b(book(\s+an?)?\s+appointment|schedule\s+a\s+visit)\b`), 0.8},
		{CancelBooking, regexp.MustCompile(`(?i)\bcancel(\s+my)?\s+appointment\b`), 0.8},
		{CheckAvailability, regexp.MustCompile(`(?i)\b(availability|free\s+slots|open\s+slots)\b`), 0.8},
		{MedicalAdvice, regexp.MustCompile(`(?i)\b(medical\s+advice|symptoms?|what\s+should\s+i\s+do)\b`), 0.95},
		{PatientHistory, regexp.MustCompile(`(?i)\b(history|past\s+appointments)\b`), 0.7},
	}
}

const defaultThreshold = 0.7

type completer interface {
	CompleteRaw(ctx context.Context, req llm.Request) (string, error)
}

// Classifier runs the rule pass and the LLM escalation.
type Classifier struct {
	rules     []Rule
	threshold float64
	llm       completer
	logger    *logging.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithThreshold overrides the escalation confidence cutoff.
func WithThreshold(threshold float64) Option {
	return func(c *Classifier) {
		if threshold > 0 {
			c.threshold = threshold
		}
	}
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) {
		if len(rules) > 0 {
			c.rules = rules
		}
	}
}

// NewClassifier builds a classifier. llmSvc may be nil, disabling the
// escalation path entirely.
func NewClassifier(llmSvc completer, logger *logging.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Classifier{
		rules:     DefaultRules(),
		threshold: defaultThreshold,
		llm:       llmSvc,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify maps text to (intent, entities, confidence). Classification
// never fails: provider errors degrade to the local best-effort guess.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	local := c.classifyLocal(text)
	if local.Confidence >= c.threshold {
		return local
	}

	if c.llm == nil {
		return local
	}

	c.logger.Info("low classification confidence, escalating to LLM",
		"intent", local.Intent, "confidence", local.Confidence)

	escalated, err := c.classifyLLM(ctx, text)
	if err != nil {
		c.logger.Warn("LLM classification failed, keeping local guess",
			"error", err, "intent", local.Intent)
		return local
	}
	escalated.UsedLLM = true
	return escalated
}

func (c *Classifier) classifyLocal(text string) Result {
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(text) {
			res := Result{Intent: rule.Intent, Confidence: rule.Confidence}
			switch rule.Intent {
			case Booking:
				res.Entities = map[string]string{"type": "appointment"}
			case CancelBooking, CheckAvailability:
				res.Entities = map[string]string{}
			}
			return res
		}
	}
	return Result{Intent: Unknown, Confidence: 0.5}
}

const classifyPrompt = `Classify the patient message below for a clinic booking assistant.
Respond with a single JSON object and nothing else, shaped exactly as:
{"intent": "<one of: greeting, booking, cancel_booking, check_availability, medical_advice, get_patient_history, unknown>", "entities": {"<name>": "<value>"}, "confidence": <0.0-1.0>}

Message: %q`

func (c *Classifier) classifyLLM(ctx context.Context, text string) (Result, error) {
	raw, err := c.llm.CompleteRaw(ctx, llm.Request{
		Messages: []llm.ChatMessage{
			{Role: llm.ChatRoleUser, Content: fmt.Sprintf(classifyPrompt, text)},
		},
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	if err := json.Unmarshal([]byte(extractJSON(raw)), &res); err != nil {
		return Result{}, fmt.Errorf("intent: decode LLM classification: %w", err)
	}
	if _, ok := knownIntents[res.Intent]; !ok {
		return Result{}, fmt.Errorf("intent: LLM returned unknown intent %q", res.Intent)
	}
	return res, nil
}

// extractJSON pulls the first JSON object out of a model reply, tolerating
// code fences and surrounding prose.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
