package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Session cache
	SessionTTL       time.Duration
	SessionRecentMax int
	SnapshotTimeout  time.Duration

	// Intent classification
	IntentConfidenceThreshold float64

	// Queues
	UseMemoryQueue         bool
	WorkerCount            int
	ConversationQueueURL   string
	ReminderQueueURL       string
	SummarizeQueueURL      string
	SessionRefreshQueueURL string
	JobsTable              string
	JobMaxAttempts         int
	JobBackoffBase         time.Duration
	SessionRefreshInterval time.Duration

	// AWS / LLM
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string
	LLMTimeout          time.Duration

	// Channel gateway (primary) and Cloud API (fallback)
	ChannelGatewayURL  string
	ChannelAPIBaseURL  string
	ChannelAPIToken    string
	ChannelSendTimeout time.Duration
	DefaultLanguage    string

	// Email reminders
	SESFromAddress string

	// Scheduling
	CancelCutoff time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SessionTTL:       getEnvAsDuration("SESSION_TTL", 7*24*time.Hour),
		SessionRecentMax: getEnvAsInt("SESSION_RECENT_TURNS", 5),
		SnapshotTimeout:  getEnvAsDuration("SESSION_SNAPSHOT_TIMEOUT", 5*time.Second),

		IntentConfidenceThreshold: getEnvAsFloat("INTENT_CONFIDENCE_THRESHOLD", 0.7),

		UseMemoryQueue:         getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:            getEnvAsInt("WORKER_COUNT", 2),
		ConversationQueueURL:   getEnv("CONVERSATION_QUEUE_URL", ""),
		ReminderQueueURL:       getEnv("REMINDER_QUEUE_URL", ""),
		SummarizeQueueURL:      getEnv("SUMMARIZE_QUEUE_URL", ""),
		SessionRefreshQueueURL: getEnv("SESSION_REFRESH_QUEUE_URL", ""),
		JobsTable:              getEnv("JOBS_TABLE", "medibot_jobs"),
		JobMaxAttempts:         getEnvAsInt("JOB_MAX_ATTEMPTS", 5),
		JobBackoffBase:         getEnvAsDuration("JOB_BACKOFF_BASE", 30*time.Second),
		SessionRefreshInterval: getEnvAsDuration("SESSION_REFRESH_INTERVAL", 5*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),

		ChannelGatewayURL:  getEnv("CHANNEL_GATEWAY_URL", "http://localhost:3001"),
		ChannelAPIBaseURL:  getEnv("CHANNEL_API_BASE_URL", ""),
		ChannelAPIToken:    getEnv("CHANNEL_API_TOKEN", ""),
		ChannelSendTimeout: getEnvAsDuration("CHANNEL_SEND_TIMEOUT", 10*time.Second),
		DefaultLanguage:    getEnv("DEFAULT_LANGUAGE", "en"),

		SESFromAddress: getEnv("SES_FROM_ADDRESS", ""),

		CancelCutoff: getEnvAsDuration("CANCEL_CUTOFF", 24*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
