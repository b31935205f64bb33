package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/medibot/internal/apperr"
	"github.com/clinicware/medibot/internal/providers"
	"github.com/clinicware/medibot/pkg/logging"
)

// memStore is an in-memory appointment store that enforces the same
// uniqueness guarantee as the partial index on the appointments table.
type memStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMemStore() *memStore {
	return &memStore{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *memStore) Create(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appts {
		if existing.ProviderID == appt.ProviderID &&
			existing.SlotStart.Equal(appt.SlotStart) &&
			existing.Status != StatusCancelled {
			return apperr.Conflict("slot already booked")
		}
	}
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return apperr.NotFound("appointment not found")
	}
	a.Status = status
	return nil
}

func (m *memStore) BookedStarts(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var starts []time.Time
	for _, a := range m.appts {
		if a.ProviderID != providerID {
			continue
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			continue
		}
		if a.SlotStart.Before(from) || !a.SlotStart.Before(to) {
			continue
		}
		starts = append(starts, a.SlotStart)
	}
	return starts, nil
}

func (m *memStore) ListForPatient(_ context.Context, patientID uuid.UUID, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
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

type memRules struct {
	rules map[time.Weekday]*providers.AvailabilityRule
}

func (m *memRules) RuleFor(_ context.Context, _ uuid.UUID, day time.Weekday) (*providers.AvailabilityRule, error) {
	return m.rules[day], nil
}

func mondayRule(start, end string, interval int) *memRules {
	return &memRules{rules: map[time.Weekday]*providers.AvailabilityRule{
		time.Monday: {DayOfWeek: time.Monday, StartTime: start, EndTime: end, SlotIntervalMinutes: interval},
	}}
}

// 2026-08-31 is a Monday.
var monday = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, store *memStore, rules *memRules, opts ...Option) *Scheduler {
	t.Helper()
	return NewScheduler(store, rules, logging.Default().Logger, opts...)
}

func TestAvailableSlotsHalfOpenWindow(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), mondayRule("09:00", "10:00", 30))

	slots, err := sched.AvailableSlots(context.Background(), uuid.New(), monday)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, monday.Add(9*time.Hour), slots[0])
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), slots[1])
}

func TestAvailableSlotsDayWithoutRule(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), mondayRule("09:00", "10:00", 30))

	tuesday := monday.AddDate(0, 0, 1)
	slots, err := sched.AvailableSlots(context.Background(), uuid.New(), tuesday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestBookRemovesSlotFromAvailability(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30),
		WithClock(func() time.Time { return monday.Add(-24 * time.Hour) }))
	providerID := uuid.New()
	nineAM := monday.Add(9 * time.Hour)

	appt, err := sched.Book(context.Background(), providerID, uuid.New(), nineAM, "conversation")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, nineAM.Add(30*time.Minute), appt.SlotEnd)

	slots, err := sched.AvailableSlots(context.Background(), providerID, monday)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), slots[0])
}

func TestBookSameSlotTwiceConflicts(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30))
	providerID := uuid.New()
	nineAM := monday.Add(9 * time.Hour)

	_, err := sched.Book(context.Background(), providerID, uuid.New(), nineAM, "conversation")
	require.NoError(t, err)

	_, err = sched.Book(context.Background(), providerID, uuid.New(), nineAM, "conversation")
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestBookOutsideAvailabilityRejected(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), mondayRule("09:00", "10:00", 30))

	_, err := sched.Book(context.Background(), uuid.New(), uuid.New(), monday.Add(11*time.Hour), "conversation")
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestConcurrentBookingsOnlyOneSucceeds(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30))
	providerID := uuid.New()
	nineAM := monday.Add(9 * time.Hour)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sched.Book(context.Background(), providerID, uuid.New(), nineAM, "conversation")
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestCancelBeforeCutoff(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30),
		WithClock(func() time.Time { return monday.Add(-48 * time.Hour) }))
	appt, err := sched.Book(context.Background(), uuid.New(), uuid.New(), monday.Add(9*time.Hour), "conversation")
	require.NoError(t, err)

	cancelled, err := sched.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Cancelling again is a no-op, not an error.
	again, err := sched.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, again.Status)
}

func TestCancelInsideCutoffRejected(t *testing.T) {
	store := newMemStore()
	booked := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30),
		WithClock(func() time.Time { return monday.Add(-48 * time.Hour) }))
	appt, err := booked.Book(context.Background(), uuid.New(), uuid.New(), monday.Add(9*time.Hour), "conversation")
	require.NoError(t, err)

	// Two hours before the slot: inside the 24h cutoff.
	sched := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30),
		WithClock(func() time.Time { return monday.Add(7 * time.Hour) }))
	_, err = sched.Cancel(context.Background(), appt.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsPolicyViolation(err))

	stored, err := store.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestCancelUnknownAppointment(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), mondayRule("09:00", "10:00", 30))

	_, err := sched.Cancel(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestConfirmPendingAppointment(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30),
		WithClock(func() time.Time { return monday.Add(-48 * time.Hour) }))
	appt, err := sched.Book(context.Background(), uuid.New(), uuid.New(), monday.Add(9*time.Hour), "conversation")
	require.NoError(t, err)

	require.NoError(t, sched.Confirm(context.Background(), appt.ID))

	stored, err := store.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)

	err = sched.Confirm(context.Background(), appt.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestCancelledSlotBecomesBookableAgain(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, mondayRule("09:00", "10:00", 30),
		WithClock(func() time.Time { return monday.Add(-48 * time.Hour) }))
	providerID := uuid.New()
	nineAM := monday.Add(9 * time.Hour)

	appt, err := sched.Book(context.Background(), providerID, uuid.New(), nineAM, "conversation")
	require.NoError(t, err)
	_, err = sched.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)

	_, err = sched.Book(context.Background(), providerID, uuid.New(), nineAM, "conversation")
	require.NoError(t, err)
}
