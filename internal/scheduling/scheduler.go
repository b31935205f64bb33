// Package scheduling computes bookable slots from weekly availability rules
// and enforces that no slot is booked twice.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicware/medibot/internal/apperr"
	"github.com/clinicware/medibot/internal/providers"
	"github.com/clinicware/medibot/pkg/logging"
)

type appointmentStore interface {
	Create(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	BookedStarts(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]time.Time, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Appointment, error)
}

type ruleSource interface {
	RuleFor(ctx context.Context, providerID uuid.UUID, day time.Weekday) (*providers.AvailabilityRule, error)
}

// Scheduler answers availability queries and performs booking transitions.
type Scheduler struct {
	appts        appointmentStore
	rules        ruleSource
	cancelCutoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithCancelCutoff sets the minimum notice required to cancel.
func WithCancelCutoff(d time.Duration) Option {
	return func(s *Scheduler) { s.cancelCutoff = d }
}

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler.
func NewScheduler(appts appointmentStore, rules ruleSource, logger *slog.Logger, opts ...Option) *Scheduler {
	if appts == nil {
		panic("scheduling: appointment store required")
	}
	if rules == nil {
		panic("scheduling: rule source required")
	}
	if logger == nil {
		logger = logging.Default().Logger
	}
	s := &Scheduler{
		appts:        appts,
		rules:        rules,
		cancelCutoff: 24 * time.Hour,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AvailableSlots returns the open slot-start times for a provider on a
// calendar date, in ascending order. A day with no availability rule yields
// an empty list. The rule window is half-open: a slot starting exactly at
// the end time is not offered.
func (s *Scheduler) AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]time.Time, error) {
	rule, err := s.rules.RuleFor(ctx, providerID, date.Weekday())
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return []time.Time{}, nil
	}

	start, err := atClockTime(date, rule.StartTime)
	if err != nil {
		return nil, fmt.Errorf("scheduling: rule start time: %w", err)
	}
	end, err := atClockTime(date, rule.EndTime)
	if err != nil {
		return nil, fmt.Errorf("scheduling: rule end time: %w", err)
	}
	interval := time.Duration(rule.SlotIntervalMinutes) * time.Minute
	if interval <= 0 {
		return nil, fmt.Errorf("scheduling: rule has non-positive slot interval")
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	booked, err := s.appts.BookedStarts(ctx, providerID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	taken := make(map[int64]bool, len(booked))
	for _, b := range booked {
		taken[b.Unix()] = true
	}

	slots := []time.Time{}
	for t := start; t.Before(end); t = t.Add(interval) {
		if !taken[t.Unix()] {
			slots = append(slots, t)
		}
	}
	return slots, nil
}

// Book reserves a slot for a patient. The slot must be one of the provider's
// open slots for that date; a lost race against a concurrent booking surfaces
// as apperr.Conflict from the unique index.
func (s *Scheduler) Book(ctx context.Context, providerID, patientID uuid.UUID, slotStart time.Time, source string) (*Appointment, error) {
	open, err := s.AvailableSlots(ctx, providerID, slotStart)
	if err != nil {
		return nil, err
	}
	var found bool
	for _, slot := range open {
		if slot.Equal(slotStart) {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.Conflict("slot unavailable")
	}

	rule, err := s.rules.RuleFor(ctx, providerID, slotStart.Weekday())
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, apperr.Conflict("slot unavailable")
	}

	now := s.now().UTC()
	appt := &Appointment{
		ID:         uuid.New(),
		ProviderID: providerID,
		PatientID:  patientID,
		SlotStart:  slotStart,
		SlotEnd:    slotStart.Add(time.Duration(rule.SlotIntervalMinutes) * time.Minute),
		Status:     StatusPending,
		Source:     source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.appts.Create(ctx, appt); err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"provider_id", providerID,
		"slot_start", slotStart)
	return appt, nil
}

// Cancel cancels an appointment. Cancelling an already-cancelled appointment
// is a no-op; a cancellation inside the cutoff window is rejected with
// apperr.PolicyViolation and leaves the appointment untouched.
func (s *Scheduler) Cancel(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, apperr.NotFound("appointment not found")
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if appt.SlotStart.Sub(s.now()) < s.cancelCutoff {
		return nil, apperr.PolicyViolation("appointment can no longer be cancelled")
	}
	if err := s.appts.UpdateStatus(ctx, appointmentID, StatusCancelled); err != nil {
		return nil, err
	}
	appt.Status = StatusCancelled

	s.logger.Info("appointment cancelled", "appointment_id", appointmentID)
	return appt, nil
}

// Confirm moves a pending appointment to confirmed.
func (s *Scheduler) Confirm(ctx context.Context, appointmentID uuid.UUID) error {
	appt, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt == nil {
		return apperr.NotFound("appointment not found")
	}
	if appt.Status != StatusPending {
		return apperr.Validation(fmt.Sprintf("cannot confirm appointment in status %q", appt.Status))
	}
	return s.appts.UpdateStatus(ctx, appointmentID, StatusConfirmed)
}

// Appointment returns one appointment by ID, or apperr.NotFound.
func (s *Scheduler) Appointment(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, apperr.NotFound("appointment not found")
	}
	return appt, nil
}

// History returns a patient's most recent appointments.
func (s *Scheduler) History(ctx context.Context, patientID uuid.UUID, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.appts.ListForPatient(ctx, patientID, limit)
}

// atClockTime resolves an "HH:MM" clock string on the given calendar date,
// in the date's location.
func atClockTime(date time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", clock, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, date.Location()), nil
}
