package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/messaging"
	"github.com/clinicware/medibot/pkg/logging"
)

// SessionRefreshJob keeps a provider's gateway channel session alive. It is
// enqueued as a repeating job so the check runs on an interval.
type SessionRefreshJob struct {
	ProviderID uuid.UUID `json:"providerId"`
}

type gatewaySession interface {
	Status(ctx context.Context) (*messaging.SessionStatus, error)
	InitSession(ctx context.Context) (string, error)
}

type channelSessionStore interface {
	SetChannelSession(ctx context.Context, providerID uuid.UUID, sessionID string) error
	ClearChannelSession(ctx context.Context, providerID uuid.UUID) error
}

// SessionRefreshDeps carries the session-refresh handler's collaborators.
type SessionRefreshDeps struct {
	Gateway   gatewaySession
	Providers channelSessionStore
	Logger    *logging.Logger
}

// NewSessionRefreshHandler returns the handler that checks the gateway's
// channel session and re-initializes it when disconnected. When
// re-initialization fails, the stored session reference is cleared (so a
// manual re-pairing flow can be triggered) and the error is returned for
// the retry budget.
func NewSessionRefreshHandler(deps SessionRefreshDeps) jobs.Handler {
	if deps.Gateway == nil || deps.Providers == nil {
		panic("worker: missing session refresh dependency")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	return func(ctx context.Context, env *jobs.Envelope) error {
		var job SessionRefreshJob
		if err := env.Decode(&job); err != nil {
			deps.Logger.Error("session refresh job undecodable", "job_id", env.JobID, "error", err)
			return nil
		}

		status, err := deps.Gateway.Status(ctx)
		if err == nil && status.Connected {
			deps.Logger.Debug("channel session healthy", "provider_id", job.ProviderID, "status", status.Status)
			return nil
		}
		if err != nil {
			deps.Logger.Warn("channel session status check failed", "provider_id", job.ProviderID, "error", err)
		} else {
			deps.Logger.Warn("channel session disconnected", "provider_id", job.ProviderID, "status", status.Status)
		}

		sessionID, initErr := deps.Gateway.InitSession(ctx)
		if initErr != nil {
			if clearErr := deps.Providers.ClearChannelSession(ctx, job.ProviderID); clearErr != nil {
				deps.Logger.Error("failed to clear channel session", "provider_id", job.ProviderID, "error", clearErr)
			}
			return fmt.Errorf("worker: session re-init: %w", initErr)
		}

		if err := deps.Providers.SetChannelSession(ctx, job.ProviderID, sessionID); err != nil {
			return err
		}
		deps.Logger.Info("channel session refreshed", "provider_id", job.ProviderID, "session_id", sessionID)
		return nil
	}
}
