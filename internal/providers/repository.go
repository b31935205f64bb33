// Package providers persists the service professionals whose availability
// rules and message templates drive scheduling and reminders.
package providers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider is a doctor-equivalent: the owner of availability rules,
// message templates, and a messaging-channel session.
type Provider struct {
	ID               uuid.UUID
	Name             string
	Specialization   string
	WhatsAppNumber   string
	ChannelSessionID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailabilityRule describes one recurring weekly availability window.
// Times are clock strings in "HH:MM" form.
type AvailabilityRule struct {
	DayOfWeek           time.Weekday
	StartTime           string
	EndTime             string
	SlotIntervalMinutes int
}

// MessageTemplate is a provider-specific override for an outbound message.
type MessageTemplate struct {
	Name     string
	Language string
	Content  string
}

// Repository provides provider persistence.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a provider repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("providers: db required")
	}
	return &Repository{db: db}
}

// Get returns a provider by ID, or (nil, nil) when absent.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	var sessionID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, specialization, whatsapp_number, channel_session_id, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Specialization, &p.WhatsAppNumber, &sessionID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("providers: get %s: %w", id, err)
	}
	if sessionID.Valid {
		p.ChannelSessionID = sessionID.String
	}
	return &p, nil
}

// List returns all providers ordered by name.
func (r *Repository) List(ctx context.Context) ([]Provider, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, specialization, whatsapp_number, channel_session_id, created_at, updated_at
		FROM providers
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("providers: list: %w", err)
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var p Provider
		var sessionID sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Specialization, &p.WhatsAppNumber, &sessionID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("providers: scan provider: %w", err)
		}
		if sessionID.Valid {
			p.ChannelSessionID = sessionID.String
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("providers: list: %w", err)
	}
	return out, nil
}

// RuleFor returns the availability rule for a weekday, or (nil, nil) when
// the provider does not work that day.
func (r *Repository) RuleFor(ctx context.Context, providerID uuid.UUID, day time.Weekday) (*AvailabilityRule, error) {
	var rule AvailabilityRule
	var dow int
	err := r.db.QueryRowContext(ctx, `
		SELECT day_of_week, start_time, end_time, slot_interval_minutes
		FROM availability_rules
		WHERE provider_id = $1 AND day_of_week = $2
	`, providerID, int(day)).Scan(&dow, &rule.StartTime, &rule.EndTime, &rule.SlotIntervalMinutes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("providers: rule for %s on %s: %w", providerID, day, err)
	}
	rule.DayOfWeek = time.Weekday(dow)
	return &rule, nil
}

// Template returns the provider's template override for (name, language),
// or (nil, nil) when no override exists.
func (r *Repository) Template(ctx context.Context, providerID uuid.UUID, name, language string) (*MessageTemplate, error) {
	var tmpl MessageTemplate
	err := r.db.QueryRowContext(ctx, `
		SELECT name, language, content
		FROM message_templates
		WHERE provider_id = $1 AND name = $2 AND language = $3
	`, providerID, name, language).Scan(&tmpl.Name, &tmpl.Language, &tmpl.Content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("providers: template %s/%s: %w", name, language, err)
	}
	return &tmpl, nil
}

// SetChannelSession stores the provider's channel session reference.
func (r *Repository) SetChannelSession(ctx context.Context, providerID uuid.UUID, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE providers SET channel_session_id = $1, updated_at = $2 WHERE id = $3
	`, sessionID, time.Now().UTC(), providerID)
	if err != nil {
		return fmt.Errorf("providers: set channel session: %w", err)
	}
	return nil
}

// ClearChannelSession drops the stored channel session reference so a fresh
// pairing flow can be triggered out-of-band.
func (r *Repository) ClearChannelSession(ctx context.Context, providerID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE providers SET channel_session_id = NULL, updated_at = $1 WHERE id = $2
	`, time.Now().UTC(), providerID)
	if err != nil {
		return fmt.Errorf("providers: clear channel session: %w", err)
	}
	return nil
}
