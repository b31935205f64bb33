package jobs

import (
	"encoding/json"
	"time"
)

// Envelope is the wire form of one queued job.
type Envelope struct {
	JobID       string          `json:"jobId"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt,omitempty"`
	RepeatEvery time.Duration   `json:"repeatEvery,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
}

// Decode unmarshals the payload into dst.
func (e *Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// due reports whether the envelope is ready to run at the given time.
// A small slack absorbs clock skew between enqueuer and runner.
func (e *Envelope) due(now time.Time) bool {
	if e.RunAt.IsZero() {
		return true
	}
	return !e.RunAt.After(now.Add(2 * time.Second))
}
