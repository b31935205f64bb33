// Package patients persists patient contact details, language, and
// reminder delivery preferences.
package patients

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReminderPrefs controls which channels a patient receives reminders on.
type ReminderPrefs struct {
	ViaWhatsApp bool
	ViaSMS      bool
	ViaEmail    bool
}

// Patient is a person the bot converses with. WhatsAppNumber doubles as the
// conversation identity for inbound messages.
type Patient struct {
	ID             uuid.UUID
	Name           string
	WhatsAppNumber string
	Email          string
	Language       string
	Reminders      ReminderPrefs
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository provides patient persistence.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a patient repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("patients: db required")
	}
	return &Repository{db: db}
}

const patientColumns = `id, name, whatsapp_number, email, language, remind_whatsapp, remind_sms, remind_email, created_at, updated_at`

func scanPatient(row *sql.Row) (*Patient, error) {
	var p Patient
	var email sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.WhatsAppNumber, &email, &p.Language,
		&p.Reminders.ViaWhatsApp, &p.Reminders.ViaSMS, &p.Reminders.ViaEmail,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		p.Email = email.String
	}
	return &p, nil
}

// Get returns a patient by ID, or (nil, nil) when absent.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patients: get %s: %w", id, err)
	}
	return p, nil
}

// GetByWhatsApp returns the patient owning a WhatsApp number, or (nil, nil)
// when no patient is registered under it.
func (r *Repository) GetByWhatsApp(ctx context.Context, number string) (*Patient, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE whatsapp_number = $1`, number)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patients: get by whatsapp: %w", err)
	}
	return p, nil
}

// EnsureByWhatsApp returns the patient for a WhatsApp number, creating a
// minimal record with the default language when none exists yet.
func (r *Repository) EnsureByWhatsApp(ctx context.Context, number, defaultLanguage string) (*Patient, error) {
	p, err := r.GetByWhatsApp(ctx, number)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	now := time.Now().UTC()
	created := &Patient{
		ID:             uuid.New(),
		WhatsAppNumber: number,
		Language:       defaultLanguage,
		Reminders:      ReminderPrefs{ViaWhatsApp: true},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO patients (id, name, whatsapp_number, email, language, remind_whatsapp, remind_sms, remind_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (whatsapp_number) DO NOTHING
	`, created.ID, "", created.WhatsAppNumber, nil, created.Language,
		created.Reminders.ViaWhatsApp, created.Reminders.ViaSMS, created.Reminders.ViaEmail,
		created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("patients: ensure by whatsapp: %w", err)
	}

	// Re-read in case a concurrent insert won the conflict.
	p, err = r.GetByWhatsApp(ctx, number)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("patients: ensure by whatsapp: record missing after insert")
	}
	return p, nil
}
