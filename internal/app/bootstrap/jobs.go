package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/clinicware/medibot/internal/config"
	"github.com/clinicware/medibot/internal/jobs"
	"github.com/clinicware/medibot/internal/worker"
	"github.com/clinicware/medibot/pkg/logging"
)

const memoryQueueBuffer = 256

// JobsRuntime bundles the queue transport, the job ledger, and the
// enqueuer. Memory mode keeps everything in-process for local development;
// otherwise SQS carries envelopes and DynamoDB tracks outcomes.
type JobsRuntime struct {
	Enqueuer *jobs.Enqueuer
	Records  jobs.JobRecorder

	updater jobs.JobUpdater
	memory  map[string]*jobs.MemoryQueue
	sqs     map[string]*jobs.SQSQueue
}

// BuildJobs wires the queue transport selected by config.
func BuildJobs(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*JobsRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	rt := &JobsRuntime{}

	if cfg.UseMemoryQueue {
		store := jobs.NewMemoryJobStore()
		rt.Records = store
		rt.updater = store
		rt.memory = map[string]*jobs.MemoryQueue{
			jobs.QueueConversation:   jobs.NewMemoryQueue(memoryQueueBuffer),
			jobs.QueueReminder:       jobs.NewMemoryQueue(memoryQueueBuffer),
			jobs.QueueSummarize:      jobs.NewMemoryQueue(memoryQueueBuffer),
			jobs.QueueSessionRefresh: jobs.NewMemoryQueue(memoryQueueBuffer),
		}
	} else {
		urls := map[string]string{
			jobs.QueueConversation:   cfg.ConversationQueueURL,
			jobs.QueueReminder:       cfg.ReminderQueueURL,
			jobs.QueueSummarize:      cfg.SummarizeQueueURL,
			jobs.QueueSessionRefresh: cfg.SessionRefreshQueueURL,
		}
		for name, url := range urls {
			if strings.TrimSpace(url) == "" {
				return nil, fmt.Errorf("bootstrap: queue url for %s is required", name)
			}
		}
		sqsClient := sqs.NewFromConfig(awsCfg)
		rt.sqs = make(map[string]*jobs.SQSQueue, len(urls))
		for name, url := range urls {
			rt.sqs[name] = jobs.NewSQSQueue(sqsClient, url)
		}
		store := jobs.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.JobsTable, logger)
		rt.Records = store
		rt.updater = store
	}

	rt.Enqueuer = jobs.NewEnqueuer(rt.Records, logger,
		jobs.WithDefaultMaxAttempts(cfg.JobMaxAttempts))
	if rt.memory != nil {
		for name, q := range rt.memory {
			rt.Enqueuer.RegisterQueue(name, q)
		}
	} else {
		for name, q := range rt.sqs {
			rt.Enqueuer.RegisterQueue(name, q)
		}
	}
	return rt, nil
}

func (rt *JobsRuntime) runner(cfg *appconfig.Config, core *Core, name string, handler jobs.Handler, logger *logging.Logger) *jobs.Runner {
	opts := []jobs.RunnerOption{
		jobs.WithWorkerCount(cfg.WorkerCount),
		jobs.WithBackoffBase(cfg.JobBackoffBase),
	}
	if q, ok := rt.memory[name]; ok {
		return jobs.NewRunner(name, q, handler, rt.updater, core.JobMetrics, logger, opts...)
	}
	return jobs.NewRunner(name, rt.sqs[name], handler, rt.updater, core.JobMetrics, logger, opts...)
}

// BuildRunners creates one runner per queue, bound to the worker handlers.
func (rt *JobsRuntime) BuildRunners(cfg *appconfig.Config, core *Core, logger *logging.Logger) []*jobs.Runner {
	conversation := worker.NewConversationHandler(core.Pipeline, logger,
		worker.WithSummarySchedule(rt.Enqueuer, 5*time.Minute, 24*time.Hour))
	reminders := worker.NewReminderHandler(worker.ReminderDeps{
		Appointments:    core.Appointments,
		Patients:        core.Patients,
		Providers:       core.Providers,
		Translator:      core.LLM,
		Sender:          core.Sender,
		Email:           core.Email,
		DefaultLanguage: cfg.DefaultLanguage,
		Logger:          logger,
	})
	summarizer := worker.NewSummarizerHandler(worker.SummarizerDeps{
		Messages:  core.Messages,
		LLM:       core.LLM,
		Summaries: core.Summaries,
		Logger:    logger,
	})
	refresh := worker.NewSessionRefreshHandler(worker.SessionRefreshDeps{
		Gateway:   core.Gateway,
		Providers: core.Providers,
		Logger:    logger,
	})

	return []*jobs.Runner{
		rt.runner(cfg, core, jobs.QueueConversation, conversation, logger.Named("conversation-runner")),
		rt.runner(cfg, core, jobs.QueueReminder, reminders, logger.Named("reminder-runner")),
		rt.runner(cfg, core, jobs.QueueSummarize, summarizer, logger.Named("summarize-runner")),
		rt.runner(cfg, core, jobs.QueueSessionRefresh, refresh, logger.Named("session-refresh-runner")),
	}
}
