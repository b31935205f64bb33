// Package messaging sends outbound WhatsApp messages and records the
// per-message audit trail.
package messaging

import "context"

// SendResult carries the channel-assigned identifier of a delivered message.
type SendResult struct {
	MessageID string
}

// ChannelSender delivers one outbound message to a chat.
type ChannelSender interface {
	Send(ctx context.Context, chatID, text string) (SendResult, error)
}
