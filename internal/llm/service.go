package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinicware/medibot/internal/apperr"
	"github.com/clinicware/medibot/pkg/logging"
)

const defaultTimeout = 20 * time.Second

const assistantSystemPrompt = `You are a helpful assistant for a doctor's office named "MediBot". Your primary goal is to assist patients with scheduling appointments, answering general questions about the clinic, and providing information on services. You must never provide medical advice, diagnoses, or treatment recommendations. If a user asks for medical advice, gently redirect them to book an appointment with a doctor. Be polite, concise, and clear in your responses.`

// Service exposes the completion, summarization, and translation
// capabilities with bounded per-call timeouts. All provider failures are
// returned as apperr.ProviderUnavailable so callers can fall back.
type Service struct {
	client  Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewService wraps a Client with timeouts and the clinic system prompt.
func NewService(client Client, model string, timeout time.Duration, logger *logging.Logger) *Service {
	if client == nil {
		panic("llm: client cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{client: client, model: model, timeout: timeout, logger: logger}
}

// Complete generates an assistant reply for the prompt, with conversational
// context rendered into the system instruction.
func (s *Service) Complete(ctx context.Context, prompt string, convCtx map[string]any) (string, error) {
	system := []string{assistantSystemPrompt}
	if len(convCtx) > 0 {
		var sb strings.Builder
		sb.WriteString("Context about the current conversation and patient:\n")
		for k, v := range convCtx {
			fmt.Fprintf(&sb, "- %s: %v\n", k, v)
		}
		system = append(system, sb.String())
	}

	resp, err := s.complete(ctx, Request{
		Model:    s.model,
		System:   system,
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp, nil
}

// Summarize produces a concise neutral summary of the transcript text.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf("Provide a concise and neutral summary of the following conversation, focusing on the key points:\n\n%q\n\nSummary:", text)
	return s.complete(ctx, Request{
		Model:    s.model,
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
	})
}

// Translate renders text into the target language.
func (s *Service) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	prompt := fmt.Sprintf("Translate the following text into %s:\n\n%q\n\nTranslation:", targetLanguage, text)
	return s.complete(ctx, Request{
		Model:    s.model,
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
	})
}

// CompleteRaw runs a request built by the caller (used by the intent
// classifier for structured classification prompts).
func (s *Service) CompleteRaw(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = s.model
	}
	return s.complete(ctx, req)
}

func (s *Service) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		return "", apperr.ProviderUnavailable("llm completion failed", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", apperr.ProviderUnavailable("llm returned empty response", nil)
	}
	return text, nil
}
