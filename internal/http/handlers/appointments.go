package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicware/medibot/internal/apperr"
	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/scheduling"
	"github.com/clinicware/medibot/internal/worker"
	"github.com/clinicware/medibot/pkg/logging"
)

const followupDelay = 2 * time.Hour

// AppointmentsHandler exposes slot queries and booking transitions.
type AppointmentsHandler struct {
	scheduler *scheduling.Scheduler
	enqueuer  *jobs.Enqueuer
	logger    *logging.Logger
}

// NewAppointmentsHandler creates an AppointmentsHandler. enqueuer may be nil
// when reminder scheduling is disabled.
func NewAppointmentsHandler(scheduler *scheduling.Scheduler, enqueuer *jobs.Enqueuer, logger *logging.Logger) *AppointmentsHandler {
	if scheduler == nil {
		panic("handlers: scheduler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{scheduler: scheduler, enqueuer: enqueuer, logger: logger}
}

// ListSlots handles GET /api/v1/providers/{providerID}/slots?date=YYYY-MM-DD.
func (h *AppointmentsHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.scheduler.AvailableSlots(r.Context(), providerID, date)
	if err != nil {
		h.logger.Error("slot query failed", "provider_id", providerID, "error", err)
		writeError(w, http.StatusInternalServerError, "slot query failed")
		return
	}

	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providerId": providerID, "slots": out})
}

type bookRequest struct {
	ProviderID string `json:"providerId"`
	PatientID  string `json:"patientId"`
	SlotStart  string `json:"slotStart"`
	Source     string `json:"source,omitempty"`
}

// Book handles POST /api/v1/appointments.
func (h *AppointmentsHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	slotStart, err := time.Parse(time.RFC3339, req.SlotStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "slotStart must be RFC 3339")
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	appt, err := h.scheduler.Book(r.Context(), providerID, patientID, slotStart, source)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentResponse(appt))
}

// Cancel handles POST /api/v1/appointments/{appointmentID}/cancel.
func (h *AppointmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	appt, err := h.scheduler.Cancel(r.Context(), id)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(appt))
}

// Confirm handles POST /api/v1/appointments/{appointmentID}/confirm. A
// successful confirmation schedules the reminder jobs for the appointment.
func (h *AppointmentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	if err := h.scheduler.Confirm(r.Context(), id); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	h.scheduleReminders(r, id)
	writeJSON(w, http.StatusOK, map[string]string{"status": scheduling.StatusConfirmed})
}

// scheduleReminders enqueues the reminder jobs for a confirmed appointment.
// Reminders whose run time has already passed are still enqueued; the
// reminder handler re-checks the appointment status before sending.
func (h *AppointmentsHandler) scheduleReminders(r *http.Request, appointmentID uuid.UUID) {
	if h.enqueuer == nil {
		return
	}
	appt, err := h.scheduler.Appointment(r.Context(), appointmentID)
	if err != nil {
		h.logger.Error("reminder scheduling: appointment lookup failed",
			"appointment_id", appointmentID, "error", err)
		return
	}

	schedule := []struct {
		kind  string
		runAt time.Time
	}{
		{worker.Reminder24Hour, appt.SlotStart.Add(-24 * time.Hour)},
		{worker.Reminder1Hour, appt.SlotStart.Add(-time.Hour)},
		{worker.ReminderFollowup, appt.SlotEnd.Add(followupDelay)},
	}
	for _, item := range schedule {
		jobID, err := h.enqueuer.Enqueue(r.Context(), jobs.QueueReminder,
			worker.ReminderJob{AppointmentID: appt.ID, Kind: item.kind},
			jobs.WithRunAt(item.runAt))
		if err != nil {
			h.logger.Error("failed to schedule reminder", "appointment_id", appt.ID,
				"kind", item.kind, "error", err)
			continue
		}
		h.logger.Info("reminder scheduled", "appointment_id", appt.ID,
			"kind", item.kind, "job_id", jobID, "run_at", item.runAt)
	}
}

func appointmentResponse(appt *scheduling.Appointment) map[string]any {
	return map[string]any{
		"id":         appt.ID,
		"providerId": appt.ProviderID,
		"patientId":  appt.PatientID,
		"slotStart":  appt.SlotStart.Format(time.RFC3339),
		"slotEnd":    appt.SlotEnd.Format(time.RFC3339),
		"status":     appt.Status,
	}
}

// writeAppError maps typed domain errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, logger *logging.Logger, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperr.CodeNotFound:
			writeError(w, http.StatusNotFound, appErr.Message)
		case apperr.CodeConflict:
			writeError(w, http.StatusConflict, appErr.Message)
		case apperr.CodePolicyViolation:
			writeError(w, http.StatusUnprocessableEntity, appErr.Message)
		case apperr.CodeValidation:
			writeError(w, http.StatusBadRequest, appErr.Message)
		case apperr.CodeProviderUnavailable:
			writeError(w, http.StatusBadGateway, appErr.Message)
		default:
			writeError(w, http.StatusInternalServerError, appErr.Message)
		}
		return
	}
	logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
