package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/clinicware/medibot/internal/config"
	"github.com/clinicware/medibot/internal/intent"
	"github.com/clinicware/medibot/internal/llm"
	"github.com/clinicware/medibot/internal/messaging"
	"github.com/clinicware/medibot/internal/notify"
	"github.com/clinicware/medibot/internal/observability/metrics"
	"github.com/clinicware/medibot/internal/patients"
	"github.com/clinicware/medibot/internal/pipeline"
	"github.com/clinicware/medibot/internal/providers"
	"github.com/clinicware/medibot/internal/scheduling"
	"github.com/clinicware/medibot/internal/session"
	"github.com/clinicware/medibot/pkg/logging"
)

// Core holds the collaborators shared by the api and worker binaries.
type Core struct {
	DB           *sql.DB
	Redis        *redis.Client
	Sessions     *session.Store
	Summaries    *session.SummaryStore
	Providers    *providers.Repository
	Patients     *patients.Repository
	Appointments *scheduling.Repository
	Scheduler    *scheduling.Scheduler
	Messages     *messaging.Store
	Gateway      *messaging.GatewayClient
	Sender       messaging.ChannelSender
	LLM          *llm.Service
	Email        notify.EmailSender
	Pipeline     *pipeline.Pipeline

	PipelineMetrics *metrics.PipelineMetrics
	JobMetrics      *metrics.JobMetrics
}

// BuildCore wires the full message-handling stack from config.
func BuildCore(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	redisClient, err := BuildRedisClient(ctx, cfg, logger, true)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	snapshots := session.NewPostgresSnapshotStore(db)
	sessions := session.NewStore(redisClient, snapshots, logger,
		session.WithTTL(cfg.SessionTTL),
		session.WithRecentTurns(cfg.SessionRecentMax),
		session.WithSnapshotTimeout(cfg.SnapshotTimeout),
	)

	providerRepo := providers.NewRepository(db)
	patientRepo := patients.NewRepository(db)
	apptRepo := scheduling.NewRepository(db)
	scheduler := scheduling.NewScheduler(apptRepo, providerRepo, logger.Logger,
		scheduling.WithCancelCutoff(cfg.CancelCutoff))

	llmService := buildLLMService(ctx, cfg, awsCfg, logger)
	classifier := intent.NewClassifier(llmService, logger,
		intent.WithThreshold(cfg.IntentConfidenceThreshold))

	sender, gateway := buildSender(cfg, logger)

	var email notify.EmailSender
	if strings.TrimSpace(cfg.SESFromAddress) != "" {
		email = notify.NewSESSender(sesv2.NewFromConfig(awsCfg),
			notify.SESConfig{FromEmail: cfg.SESFromAddress}, logger)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	msgStore := messaging.NewStore(db)
	pipe := pipeline.New(pipeline.Config{
		Sessions:        sessions,
		Classifier:      classifier,
		LLM:             llmService,
		Scheduler:       scheduler,
		Sender:          sender,
		Audit:           msgStore,
		Patients:        patientRepo,
		Metrics:         pipelineMetrics,
		Logger:          logger,
		DefaultLanguage: cfg.DefaultLanguage,
	})

	return &Core{
		DB:              db,
		Redis:           redisClient,
		Sessions:        sessions,
		Summaries:       session.NewSummaryStore(db),
		Providers:       providerRepo,
		Patients:        patientRepo,
		Appointments:    apptRepo,
		Scheduler:       scheduler,
		Messages:        msgStore,
		Gateway:         gateway,
		Sender:          sender,
		LLM:             llmService,
		Email:           email,
		Pipeline:        pipe,
		PipelineMetrics: pipelineMetrics,
		JobMetrics:      jobMetrics,
	}, nil
}

// Close releases the core's connections.
func (c *Core) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

// buildLLMService selects Bedrock as primary and Gemini as fallback,
// degrading to a disabled client when neither is configured.
func buildLLMService(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *llm.Service {
	var primary, fallback llm.Client

	if strings.TrimSpace(cfg.BedrockModelID) != "" {
		primary = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else if primary == nil {
			primary = gemini
		} else {
			fallback = gemini
		}
	}
	if primary == nil {
		logger.Warn("no llm provider configured; assistant replies will degrade")
		primary = llm.NewDisabledClient()
	}

	client := llm.Client(primary)
	if fallback != nil {
		client = llm.NewFallbackClient(primary, fallback, logger.Logger)
	}
	return llm.NewService(client, cfg.BedrockModelID, cfg.LLMTimeout, logger)
}

// buildSender wires the gateway as primary with the Cloud API as fallback.
func buildSender(cfg *appconfig.Config, logger *logging.Logger) (messaging.ChannelSender, *messaging.GatewayClient) {
	gateway := messaging.NewGatewayClient(cfg.ChannelGatewayURL,
		messaging.WithGatewayLogger(logger),
		messaging.WithGatewayHTTPClient(&http.Client{Timeout: cfg.ChannelSendTimeout}))

	if strings.TrimSpace(cfg.ChannelAPIBaseURL) == "" {
		return gateway, gateway
	}
	cloud := messaging.NewCloudAPIClient(cfg.ChannelAPIBaseURL, cfg.ChannelAPIToken,
		messaging.WithCloudLogger(logger))
	return messaging.NewFallbackSender(gateway, cloud, logger), gateway
}
