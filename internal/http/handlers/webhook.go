// Package handlers holds the HTTP handlers for the public API: the inbound
// message webhook, appointment operations, and job status lookups.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/worker"
	"github.com/clinicware/medibot/pkg/logging"
)

// inboundWebhook is the gateway's inbound message notification.
type inboundWebhook struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// WebhookHandler accepts inbound message webhooks and hands them to the
// conversation queue.
type WebhookHandler struct {
	enqueuer *jobs.Enqueuer
	logger   *logging.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(enqueuer *jobs.Enqueuer, logger *logging.Logger) *WebhookHandler {
	if enqueuer == nil {
		panic("handlers: enqueuer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{enqueuer: enqueuer, logger: logger}
}

// HandleInbound enqueues a conversation job for an inbound message and
// responds 202. The webhook is acknowledged before processing so the
// gateway never waits on the language model.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	var payload inboundWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.MessageID == "" || payload.From == "" {
		writeError(w, http.StatusBadRequest, "messageId and from are required")
		return
	}

	receivedAt := time.Now().UTC()
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			receivedAt = ts.UTC()
		}
	}

	jobID, err := h.enqueuer.Enqueue(r.Context(), jobs.QueueConversation, worker.ConversationJob{
		ConversationID:    payload.From,
		ProviderMessageID: payload.MessageID,
		Text:              payload.Text,
		ReceivedAt:        receivedAt,
	})
	if err != nil {
		h.logger.Error("failed to enqueue conversation job", "error", err,
			"provider_message_id", payload.MessageID)
		writeError(w, http.StatusInternalServerError, "failed to accept message")
		return
	}

	h.logger.Info("inbound message accepted", "job_id", jobID,
		"provider_message_id", payload.MessageID)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
