package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/medibot/internal/apperr"
	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/providers"
	"github.com/clinicware/medibot/internal/scheduling"
	"github.com/clinicware/medibot/pkg/logging"
)

type memApptStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*scheduling.Appointment
}

func newMemApptStore() *memApptStore {
	return &memApptStore{appts: make(map[uuid.UUID]*scheduling.Appointment)}
}

func (m *memApptStore) Create(_ context.Context, appt *scheduling.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appts {
		if existing.ProviderID == appt.ProviderID &&
			existing.SlotStart.Equal(appt.SlotStart) &&
			existing.Status != scheduling.StatusCancelled {
			return apperr.Conflict("slot already booked")
		}
	}
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *memApptStore) Get(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memApptStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return apperr.NotFound("appointment not found")
	}
	a.Status = status
	return nil
}

func (m *memApptStore) BookedStarts(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var starts []time.Time
	for _, a := range m.appts {
		if a.ProviderID == providerID &&
			(a.Status == scheduling.StatusPending || a.Status == scheduling.StatusConfirmed) &&
			!a.SlotStart.Before(from) && a.SlotStart.Before(to) {
			starts = append(starts, a.SlotStart)
		}
	}
	return starts, nil
}

func (m *memApptStore) ListForPatient(_ context.Context, patientID uuid.UUID, limit int) ([]scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type staticRules struct{}

func (staticRules) RuleFor(_ context.Context, _ uuid.UUID, day time.Weekday) (*providers.AvailabilityRule, error) {
	if day != time.Monday {
		return nil, nil
	}
	return &providers.AvailabilityRule{
		DayOfWeek:           time.Monday,
		StartTime:           "09:00",
		EndTime:             "10:00",
		SlotIntervalMinutes: 30,
	}, nil
}

type recordingJobs struct {
	mu      sync.Mutex
	pending []*jobs.JobRecord
}

func (r *recordingJobs) PutPending(_ context.Context, job *jobs.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, job)
	return nil
}

func (r *recordingJobs) GetJob(_ context.Context, jobID string) (*jobs.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.pending {
		if j.JobID == jobID {
			return j, nil
		}
	}
	return nil, jobs.ErrJobNotFound
}

func (r *recordingJobs) onQueue(name string) []*jobs.JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*jobs.JobRecord
	for _, j := range r.pending {
		if j.Queue == name {
			out = append(out, j)
		}
	}
	return out
}

// 2026-08-31 is a Monday.
var monday = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	router  http.Handler
	records *recordingJobs
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	sched := scheduling.NewScheduler(newMemApptStore(), staticRules{}, logging.Default().Logger,
		scheduling.WithClock(func() time.Time { return now }))

	records := &recordingJobs{}
	enq := jobs.NewEnqueuer(records, logging.Default())
	enq.RegisterQueue(jobs.QueueConversation, jobs.NewMemoryQueue(32))
	enq.RegisterQueue(jobs.QueueReminder, jobs.NewMemoryQueue(32))

	webhook := NewWebhookHandler(enq, logging.Default())
	appts := NewAppointmentsHandler(sched, enq, logging.Default())
	jh := NewJobsHandler(records, logging.Default())

	r := chi.NewRouter()
	r.Post("/webhooks/whatsapp/messages", webhook.HandleInbound)
	r.Get("/api/v1/providers/{providerID}/slots", appts.ListSlots)
	r.Post("/api/v1/appointments", appts.Book)
	r.Post("/api/v1/appointments/{appointmentID}/cancel", appts.Cancel)
	r.Post("/api/v1/appointments/{appointmentID}/confirm", appts.Confirm)
	r.Get("/api/v1/jobs/{jobID}", jh.GetJob)
	return &testEnv{router: r, records: records}
}

func (e *testEnv) do(method, url string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) book(t *testing.T, providerID, patientID uuid.UUID, slot time.Time) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(bookRequest{
		ProviderID: providerID.String(),
		PatientID:  patientID.String(),
		SlotStart:  slot.Format(time.RFC3339),
	})
	require.NoError(t, err)
	return e.do(http.MethodPost, "/api/v1/appointments", body)
}

func TestWebhookAcceptsInbound(t *testing.T) {
	env := newTestEnv(t, monday)

	body := `{"messageId":"wamid.1","from":"+15550001111","text":"hello"}`
	rec := env.do(http.MethodPost, "/webhooks/whatsapp/messages", []byte(body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["jobId"])
	assert.Len(t, env.records.onQueue(jobs.QueueConversation), 1)
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t, monday)

	rec := env.do(http.MethodPost, "/webhooks/whatsapp/messages", []byte(`{"text":"hi"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.records.onQueue(jobs.QueueConversation))
}

func TestListSlots(t *testing.T) {
	env := newTestEnv(t, monday.Add(-72*time.Hour))

	rec := env.do(http.MethodGet, "/api/v1/providers/"+uuid.NewString()+"/slots?date=2026-08-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Slots []string `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Slots, 2)
}

func TestListSlotsRejectsBadDate(t *testing.T) {
	env := newTestEnv(t, monday)

	rec := env.do(http.MethodGet, "/api/v1/providers/"+uuid.NewString()+"/slots?date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookAndConflict(t *testing.T) {
	env := newTestEnv(t, monday.Add(-72*time.Hour))
	providerID := uuid.New()
	slot := monday.Add(9 * time.Hour)

	first := env.book(t, providerID, uuid.New(), slot)
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.book(t, providerID, uuid.New(), slot)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestBookOutsideAvailability(t *testing.T) {
	env := newTestEnv(t, monday.Add(-72*time.Hour))

	rec := env.book(t, uuid.New(), uuid.New(), monday.Add(14*time.Hour))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmSchedulesReminders(t *testing.T) {
	env := newTestEnv(t, monday.Add(-72*time.Hour))
	providerID := uuid.New()

	booked := env.book(t, providerID, uuid.New(), monday.Add(9*time.Hour))
	require.Equal(t, http.StatusCreated, booked.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(booked.Body.Bytes(), &created))

	rec := env.do(http.MethodPost, "/api/v1/appointments/"+created.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	reminders := env.records.onQueue(jobs.QueueReminder)
	require.Len(t, reminders, 3)
	var kinds []string
	for _, j := range reminders {
		var payload struct {
			Kind string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal([]byte(j.Payload), &payload))
		kinds = append(kinds, payload.Kind)
	}
	assert.ElementsMatch(t, []string{"24_hour_reminder", "1_hour_reminder", "post_appointment_followup"}, kinds)
}

func TestCancelInsideCutoffReturnsUnprocessable(t *testing.T) {
	env := newTestEnv(t, monday.Add(8*time.Hour))
	providerID := uuid.New()

	// Inside the 24h window the slot can still be booked, just not cancelled.
	booked := env.book(t, providerID, uuid.New(), monday.Add(9*time.Hour))
	require.Equal(t, http.StatusCreated, booked.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(booked.Body.Bytes(), &created))

	rec := env.do(http.MethodPost, "/api/v1/appointments/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCancelUnknownAppointment(t *testing.T) {
	env := newTestEnv(t, monday)

	rec := env.do(http.MethodPost, "/api/v1/appointments/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, monday)

	body := `{"messageId":"wamid.2","from":"+15550002222","text":"book me"}`
	accepted := env.do(http.MethodPost, "/webhooks/whatsapp/messages", []byte(body))
	require.Equal(t, http.StatusAccepted, accepted.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(accepted.Body.Bytes(), &resp))

	found := env.do(http.MethodGet, "/api/v1/jobs/"+resp["jobId"], nil)
	require.Equal(t, http.StatusOK, found.Code)

	missing := env.do(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}
