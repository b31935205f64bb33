package messaging

import (
	"context"

	"github.com/clinicware/medibot/pkg/logging"
)

// FallbackSender tries a primary sender and, when it fails, retries the same
// message on a fallback sender.
type FallbackSender struct {
	primary  ChannelSender
	fallback ChannelSender
	logger   *logging.Logger
}

// NewFallbackSender creates a FallbackSender. primary is required; fallback
// may be nil, in which case primary errors are returned as-is.
func NewFallbackSender(primary, fallback ChannelSender, logger *logging.Logger) *FallbackSender {
	if primary == nil {
		panic("messaging: primary sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackSender{primary: primary, fallback: fallback, logger: logger}
}

// Send attempts delivery on the primary sender first.
func (s *FallbackSender) Send(ctx context.Context, chatID, text string) (SendResult, error) {
	result, err := s.primary.Send(ctx, chatID, text)
	if err == nil {
		return result, nil
	}
	if s.fallback == nil {
		return SendResult{}, err
	}

	s.logger.Warn("primary sender failed, trying fallback", "chat_id", chatID, "error", err)
	result, fbErr := s.fallback.Send(ctx, chatID, text)
	if fbErr != nil {
		s.logger.Error("fallback sender also failed", "chat_id", chatID, "error", fbErr)
		return SendResult{}, fbErr
	}
	return result, nil
}
