package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicware/medibot/cmd/mainconfig"
	"github.com/clinicware/medibot/internal/app/bootstrap"
	appconfig "github.com/clinicware/medibot/internal/config"
	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/worker"
	"github.com/clinicware/medibot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medibot worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	core, err := bootstrap.BuildCore(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build core services", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	jobsRT, err := bootstrap.BuildJobs(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build job runtime", "error", err)
		os.Exit(1)
	}

	runners := jobsRT.BuildRunners(cfg, core, logger)
	for _, r := range runners {
		r.Start(ctx)
	}

	seedSessionRefresh(ctx, cfg, core, jobsRT, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		for _, r := range runners {
			r.Wait()
		}
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("worker stopped")
	case <-doneCtx.Done():
		logger.Error("worker shutdown timed out", "error", doneCtx.Err())
	}
}

// seedSessionRefresh enqueues one repeating gateway health check per
// provider so channel sessions recover without manual intervention.
func seedSessionRefresh(ctx context.Context, cfg *appconfig.Config, core *bootstrap.Core, jobsRT *bootstrap.JobsRuntime, logger *logging.Logger) {
	providerList, err := core.Providers.List(ctx)
	if err != nil {
		logger.Error("failed to list providers for session refresh", "error", err)
		return
	}
	for _, p := range providerList {
		_, err := jobsRT.Enqueuer.Enqueue(ctx, jobs.QueueSessionRefresh,
			worker.SessionRefreshJob{ProviderID: p.ID},
			jobs.WithRepeat(cfg.SessionRefreshInterval))
		if err != nil {
			logger.Error("failed to seed session refresh", "provider_id", p.ID, "error", err)
			continue
		}
		logger.Info("session refresh scheduled", "provider_id", p.ID,
			"interval", cfg.SessionRefreshInterval)
	}
}
