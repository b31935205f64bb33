package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/clinicware/medibot/internal/observability/metrics"
	"github.com/clinicware/medibot/pkg/logging"
)

const (
	defaultWorkerCount = 2
	defaultWaitSeconds = 2
	defaultBatchSize   = 5
	maxWaitSeconds     = 20
	maxReceiveBatch    = 10
	defaultBackoffBase = 30 * time.Second
	maxRetryBackoff    = 15 * time.Minute
	deleteTimeout      = 5 * time.Second
)

// Handler processes one due job envelope. A returned error triggers a retry
// while the envelope's attempt budget lasts.
type Handler func(ctx context.Context, env *Envelope) error

// Runner drains one queue with a pool of consumer goroutines.
type Runner struct {
	queue   queueClient
	name    string
	handler Handler
	store   JobUpdater
	metrics *metrics.JobMetrics
	logger  *logging.Logger

	cfg runnerConfig
	wg  sync.WaitGroup
}

type runnerConfig struct {
	workers     int
	waitSecs    int
	batchSize   int
	backoffBase time.Duration
}

// RunnerOption customizes runner behavior.
type RunnerOption func(*runnerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) RunnerOption {
	return func(cfg *runnerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) RunnerOption {
	return func(cfg *runnerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.waitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) RunnerOption {
	return func(cfg *runnerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatch {
			size = maxReceiveBatch
		}
		cfg.batchSize = size
	}
}

// WithBackoffBase sets the base delay for retry backoff.
func WithBackoffBase(d time.Duration) RunnerOption {
	return func(cfg *runnerConfig) {
		if d > 0 {
			cfg.backoffBase = d
		}
	}
}

// NewRunner creates a Runner for one queue. store and metrics may be nil.
func NewRunner(name string, queue queueClient, handler Handler, store JobUpdater, m *metrics.JobMetrics, logger *logging.Logger, opts ...RunnerOption) *Runner {
	if name == "" {
		panic("jobs: runner queue name required")
	}
	if queue == nil {
		panic("jobs: runner queue required")
	}
	if handler == nil {
		panic("jobs: runner handler required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := runnerConfig{
		workers:     defaultWorkerCount,
		waitSecs:    defaultWaitSeconds,
		batchSize:   defaultBatchSize,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Runner{
		queue:   queue,
		name:    name,
		handler: handler,
		store:   store,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches the consumer goroutines. They stop when ctx is canceled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.workers; i++ {
		r.wg.Add(1)
		go r.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines have returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, workerID int) {
	defer r.wg.Done()
	r.logger.Debug("job runner started", "queue", r.name, "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("job runner stopping", "queue", r.name, "worker_id", workerID)
			return
		default:
		}

		messages, err := r.queue.Receive(ctx, r.cfg.batchSize, r.cfg.waitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("failed to receive jobs", "queue", r.name, "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			r.handleMessage(ctx, msg)
		}
	}
}

func (r *Runner) handleMessage(ctx context.Context, msg queueMessage) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		r.logger.Error("failed to decode job envelope", "queue", r.name, "error", err)
		r.deleteMessage(msg.ReceiptHandle)
		return
	}

	// Not yet due: the transport delay cap is shorter than long deferrals,
	// so park the envelope again until its run time arrives.
	if !env.due(time.Now().UTC()) {
		r.requeue(ctx, &env, time.Until(env.RunAt))
		r.deleteMessage(msg.ReceiptHandle)
		return
	}

	started := time.Now()
	err := r.handler(ctx, &env)
	r.metrics.ObserveJobLatency(r.name, time.Since(started).Seconds())
	attempt := env.Attempt + 1

	if err != nil {
		r.logger.Error("job failed", "queue", r.name, "job_id", env.JobID,
			"attempt", attempt, "max_attempts", env.MaxAttempts, "error", err)

		if attempt < env.MaxAttempts {
			retry := env
			retry.Attempt = attempt
			r.requeue(ctx, &retry, retryBackoff(r.cfg.backoffBase, attempt))
			r.metrics.ObserveRetry(r.name)
			r.metrics.ObserveJob(r.name, "retried")
		} else {
			if r.store != nil {
				if storeErr := r.store.MarkFailed(ctx, env.JobID, attempt, err.Error()); storeErr != nil {
					r.logger.Error("failed to record job failure", "job_id", env.JobID, "error", storeErr)
				}
			}
			r.metrics.ObserveJob(r.name, "failed")
		}
		r.deleteMessage(msg.ReceiptHandle)
		return
	}

	if r.store != nil {
		if storeErr := r.store.MarkCompleted(ctx, env.JobID, attempt); storeErr != nil {
			r.logger.Error("failed to record job completion", "job_id", env.JobID, "error", storeErr)
		}
	}
	r.metrics.ObserveJob(r.name, "completed")

	if env.RepeatEvery > 0 {
		next := env
		next.Attempt = 0
		next.RunAt = time.Now().UTC().Add(env.RepeatEvery)
		r.requeue(ctx, &next, env.RepeatEvery)
	}

	r.deleteMessage(msg.ReceiptHandle)
}

// requeue puts an envelope back on the queue after a delay. The transport
// caps the delay; the due check on receipt covers the remainder.
func (r *Runner) requeue(ctx context.Context, env *Envelope, delay time.Duration) {
	body, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("failed to marshal envelope for requeue", "job_id", env.JobID, "error", err)
		return
	}
	if delay < 0 {
		delay = 0
	}
	if err := r.queue.Send(ctx, string(body), delay); err != nil {
		r.logger.Error("failed to requeue job", "job_id", env.JobID, "queue", r.name, "error", err)
	}
}

func (r *Runner) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := r.queue.Delete(ctx, receiptHandle); err != nil {
		r.logger.Error("failed to delete message", "queue", r.name, "error", err)
	}
}

// retryBackoff returns base * 2^(attempt-1), capped.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}
