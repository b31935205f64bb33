package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicware/medibot/pkg/logging"
)

const defaultMaxAttempts = 5

// Enqueuer publishes jobs onto named queues and registers each job as
// pending in the job store.
type Enqueuer struct {
	queues      map[string]queueClient
	store       JobRecorder
	maxAttempts int
	logger      *logging.Logger
	now         func() time.Time
}

// EnqueuerOption customizes an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithDefaultMaxAttempts sets the retry budget applied when an enqueue does
// not specify its own.
func WithDefaultMaxAttempts(n int) EnqueuerOption {
	return func(e *Enqueuer) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewEnqueuer creates an Enqueuer. store may be nil when job tracking is
// disabled.
func NewEnqueuer(store JobRecorder, logger *logging.Logger, opts ...EnqueuerOption) *Enqueuer {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Enqueuer{
		queues:      make(map[string]queueClient),
		store:       store,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterQueue binds a queue name to its transport.
func (e *Enqueuer) RegisterQueue(name string, q queueClient) {
	if q == nil {
		panic("jobs: queue cannot be nil")
	}
	e.queues[name] = q
}

// EnqueueOption customizes one enqueued job.
type EnqueueOption func(*Envelope)

// WithDelay defers the job's first run.
func WithDelay(d time.Duration) EnqueueOption {
	return func(env *Envelope) {
		if d > 0 {
			env.RunAt = time.Now().UTC().Add(d)
		}
	}
}

// WithRunAt defers the job's first run to an absolute time.
func WithRunAt(t time.Time) EnqueueOption {
	return func(env *Envelope) {
		env.RunAt = t.UTC()
	}
}

// WithRepeat re-enqueues the job on the given interval after each success.
func WithRepeat(every time.Duration) EnqueueOption {
	return func(env *Envelope) {
		if every > 0 {
			env.RepeatEvery = every
		}
	}
}

// WithMaxAttempts overrides the retry budget for one job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(env *Envelope) {
		if n > 0 {
			env.MaxAttempts = n
		}
	}
}

// Enqueue publishes a job onto the named queue and returns its job ID.
func (e *Enqueuer) Enqueue(ctx context.Context, queue string, payload any, opts ...EnqueueOption) (string, error) {
	q, ok := e.queues[queue]
	if !ok {
		return "", fmt.Errorf("jobs: unknown queue %q", queue)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal payload: %w", err)
	}

	now := e.now().UTC()
	env := &Envelope{
		JobID:       uuid.NewString(),
		Queue:       queue,
		Payload:     raw,
		Attempt:     0,
		MaxAttempts: e.maxAttempts,
		EnqueuedAt:  now,
	}
	for _, opt := range opts {
		opt(env)
	}

	if e.store != nil {
		record := &JobRecord{
			JobID:   env.JobID,
			Queue:   queue,
			Payload: string(raw),
		}
		if err := e.store.PutPending(ctx, record); err != nil {
			return "", fmt.Errorf("jobs: record pending job: %w", err)
		}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal envelope: %w", err)
	}

	var delay time.Duration
	if !env.RunAt.IsZero() {
		delay = env.RunAt.Sub(now)
	}
	if err := q.Send(ctx, string(body), delay); err != nil {
		return "", err
	}

	e.logger.Debug("job enqueued", "job_id", env.JobID, "queue", queue, "run_at", env.RunAt)
	return env.JobID, nil
}
