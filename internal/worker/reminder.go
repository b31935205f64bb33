package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/messaging"
	"github.com/clinicware/medibot/internal/notify"
	"github.com/clinicware/medibot/internal/patients"
	"github.com/clinicware/medibot/internal/providers"
	"github.com/clinicware/medibot/internal/scheduling"
	"github.com/clinicware/medibot/internal/templates"
	"github.com/clinicware/medibot/pkg/logging"
)

// Reminder kinds. These double as message_templates names so providers can
// override the wording per kind and language.
const (
	Reminder24Hour   = "24_hour_reminder"
	Reminder1Hour    = "1_hour_reminder"
	ReminderFollowup = "post_appointment_followup"
)

var defaultReminderTemplates = map[string]string{
	Reminder24Hour: "Hi {{.PatientName}}, a reminder that your appointment with {{.ProviderName}} " +
		"is tomorrow at {{.SlotTime}}. Reply here if you need to change it.",
	Reminder1Hour: "Hi {{.PatientName}}, your appointment with {{.ProviderName}} starts at {{.SlotTime}}, " +
		"in about an hour. See you soon!",
	ReminderFollowup: "Hi {{.PatientName}}, thank you for visiting {{.ProviderName}}. " +
		"If anything about your aftercare is unclear, just reply here.",
}

// ReminderJob is the payload of one scheduled reminder.
type ReminderJob struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	Kind          string    `json:"kind"`
}

type appointmentGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type patientGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*patients.Patient, error)
}

type providerSource interface {
	Get(ctx context.Context, id uuid.UUID) (*providers.Provider, error)
	Template(ctx context.Context, providerID uuid.UUID, name, language string) (*providers.MessageTemplate, error)
}

type translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// ReminderDeps carries the reminder handler's collaborators. Email may be
// nil when email delivery is disabled.
type ReminderDeps struct {
	Appointments    appointmentGetter
	Patients        patientGetter
	Providers       providerSource
	Renderer        templates.Renderer
	Translator      translator
	Sender          messaging.ChannelSender
	Email           notify.EmailSender
	DefaultLanguage string
	Logger          *logging.Logger
}

// NewReminderHandler returns the handler that delivers appointment
// reminders. Reminders for appointments that were cancelled or never
// confirmed resolve as successful no-ops so the queue drains cleanly.
func NewReminderHandler(deps ReminderDeps) jobs.Handler {
	if deps.Appointments == nil || deps.Patients == nil || deps.Providers == nil ||
		deps.Translator == nil || deps.Sender == nil {
		panic("worker: missing reminder dependency")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.DefaultLanguage == "" {
		deps.DefaultLanguage = "en"
	}

	return func(ctx context.Context, env *jobs.Envelope) error {
		var job ReminderJob
		if err := env.Decode(&job); err != nil {
			deps.Logger.Error("reminder job undecodable", "job_id", env.JobID, "error", err)
			return nil
		}
		if _, ok := defaultReminderTemplates[job.Kind]; !ok {
			deps.Logger.Error("unknown reminder kind", "job_id", env.JobID, "kind", job.Kind)
			return nil
		}

		appt, err := deps.Appointments.Get(ctx, job.AppointmentID)
		if err != nil {
			return err
		}
		if appt == nil {
			deps.Logger.Info("reminder skipped: appointment gone", "appointment_id", job.AppointmentID)
			return nil
		}
		if !reminderApplies(job.Kind, appt.Status) {
			deps.Logger.Info("reminder skipped", "appointment_id", appt.ID,
				"kind", job.Kind, "status", appt.Status)
			return nil
		}

		patient, err := deps.Patients.Get(ctx, appt.PatientID)
		if err != nil {
			return err
		}
		if patient == nil {
			deps.Logger.Warn("reminder skipped: patient gone", "appointment_id", appt.ID)
			return nil
		}
		provider, err := deps.Providers.Get(ctx, appt.ProviderID)
		if err != nil {
			return err
		}
		if provider == nil {
			deps.Logger.Warn("reminder skipped: provider gone", "appointment_id", appt.ID)
			return nil
		}

		text, err := renderReminder(ctx, deps, job.Kind, appt, patient, provider)
		if err != nil {
			return err
		}

		return deliverReminder(ctx, deps, patient, job.Kind, text)
	}
}

func reminderApplies(kind, status string) bool {
	switch kind {
	case ReminderFollowup:
		return status == scheduling.StatusCompleted || status == scheduling.StatusConfirmed
	default:
		return status == scheduling.StatusConfirmed
	}
}

// renderReminder resolves the template (provider override in the patient's
// language first, then the built-in default) and renders it. Built-in
// defaults are translated when the patient's language differs from the
// service default.
func renderReminder(ctx context.Context, deps ReminderDeps, kind string, appt *scheduling.Appointment, patient *patients.Patient, provider *providers.Provider) (string, error) {
	language := patient.Language
	if language == "" {
		language = deps.DefaultLanguage
	}

	data := map[string]string{
		"PatientName":  patientDisplayName(patient),
		"ProviderName": provider.Name,
		"SlotTime":     appt.SlotStart.Format("Mon 2 Jan 15:04"),
	}

	override, err := deps.Providers.Template(ctx, provider.ID, kind, language)
	if err != nil {
		return "", err
	}
	if override != nil {
		return deps.Renderer.Render(kind, override.Content, data)
	}

	text, err := deps.Renderer.Render(kind, defaultReminderTemplates[kind], data)
	if err != nil {
		return "", err
	}
	if language != deps.DefaultLanguage {
		translated, err := deps.Translator.Translate(ctx, text, language)
		if err != nil {
			return "", err
		}
		text = translated
	}
	return text, nil
}

func deliverReminder(ctx context.Context, deps ReminderDeps, patient *patients.Patient, kind, text string) error {
	delivered := false

	if patient.Reminders.ViaWhatsApp {
		if _, err := deps.Sender.Send(ctx, patient.WhatsAppNumber, text); err != nil {
			return fmt.Errorf("worker: reminder whatsapp send: %w", err)
		}
		delivered = true
	}

	if patient.Reminders.ViaEmail && patient.Email != "" {
		if deps.Email == nil {
			deps.Logger.Warn("email reminder skipped: email delivery not configured", "patient_id", patient.ID)
		} else {
			err := deps.Email.Send(ctx, notify.EmailMessage{
				To:      patient.Email,
				Subject: "Appointment reminder",
				Body:    text,
			})
			if err != nil {
				return fmt.Errorf("worker: reminder email send: %w", err)
			}
			delivered = true
		}
	}

	if patient.Reminders.ViaSMS {
		// No SMS transport is wired; WhatsApp and email cover delivery.
		deps.Logger.Debug("sms reminder preference ignored: no sms transport", "patient_id", patient.ID)
	}

	if !delivered {
		deps.Logger.Info("reminder had no enabled delivery channel", "patient_id", patient.ID, "kind", kind)
	}
	return nil
}

func patientDisplayName(p *patients.Patient) string {
	if p.Name != "" {
		return p.Name
	}
	return "there"
}
