package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicware/medibot/cmd/mainconfig"
	"github.com/clinicware/medibot/internal/api/router"
	"github.com/clinicware/medibot/internal/app/bootstrap"
	appconfig "github.com/clinicware/medibot/internal/config"
	"github.com/clinicware/medibot/internal/http/handlers"
	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medibot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

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

	// In memory-queue mode the API process hosts the job runners too.
	var runners []*jobs.Runner
	if cfg.UseMemoryQueue {
		logger.Info("memory queue enabled; running job workers in-process")
		runners = jobsRT.BuildRunners(cfg, core, logger)
		for _, r := range runners {
			r.Start(ctx)
		}
	}

	webhookHandler := handlers.NewWebhookHandler(jobsRT.Enqueuer, logger)
	appointmentsHandler := handlers.NewAppointmentsHandler(core.Scheduler, jobsRT.Enqueuer, logger)
	jobsHandler := handlers.NewJobsHandler(jobsRT.Records, logger)

	r := router.New(&router.Config{
		Logger:         logger,
		Webhook:        webhookHandler,
		Appointments:   appointmentsHandler,
		Jobs:           jobsHandler,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancel()
	for _, r := range runners {
		r.Wait()
	}

	logger.Info("server stopped")
}
