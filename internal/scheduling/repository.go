package scheduling

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicware/medibot/internal/apperr"
)

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
)

// Appointment is a booked slot with a provider.
type Appointment struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	SlotStart  time.Time
	SlotEnd    time.Time
	Status     string
	Source     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository persists appointments. The appointments table carries a partial
// unique index on (provider_id, slot_start) covering non-cancelled rows, so
// concurrent inserts for the same slot cannot both succeed.
type Repository struct {
	db *sql.DB
}

// NewRepository creates an appointment repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("scheduling: db required")
	}
	return &Repository{db: db}
}

const appointmentColumns = `id, provider_id, patient_id, slot_start, slot_end, status, source, created_at, updated_at`

// Create inserts an appointment. A unique-index violation on the slot maps
// to apperr.Conflict.
func (r *Repository) Create(ctx context.Context, appt *Appointment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, appt.ID, appt.ProviderID, appt.PatientID, appt.SlotStart, appt.SlotEnd,
		appt.Status, appt.Source, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return apperr.Conflict("slot already booked")
		}
		return fmt.Errorf("scheduling: create appointment: %w", err)
	}
	return nil
}

// Get returns an appointment by ID, or (nil, nil) when absent.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := r.db.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+` FROM appointments WHERE id = $1
	`, id).Scan(&a.ID, &a.ProviderID, &a.PatientID, &a.SlotStart, &a.SlotEnd,
		&a.Status, &a.Source, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get appointment %s: %w", id, err)
	}
	return &a, nil
}

// UpdateStatus transitions an appointment to a new status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("scheduling: update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}

// BookedStarts returns the slot-start times of non-cancelled appointments for
// a provider within [from, to).
func (r *Repository) BookedStarts(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT slot_start FROM appointments
		WHERE provider_id = $1 AND slot_start >= $2 AND slot_start < $3
		  AND status IN ('pending', 'confirmed')
		ORDER BY slot_start
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: booked starts: %w", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scheduling: scan booked start: %w", err)
		}
		starts = append(starts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: booked starts: %w", err)
	}
	return starts, nil
}

// ListForPatient returns a patient's appointments, most recent first.
func (r *Repository) ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Appointment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE patient_id = $1
		ORDER BY slot_start DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list for patient: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.ProviderID, &a.PatientID, &a.SlotStart, &a.SlotEnd,
			&a.Status, &a.Source, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		appts = append(appts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: list for patient: %w", err)
	}
	return appts, nil
}
