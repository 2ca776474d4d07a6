package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-chatpush-service/internal/pipeline"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

const (
	defaultListenAddr      = ":8080"
	defaultUsersCollection = "users"
	defaultCacheTTL        = 60 * time.Second
	defaultConcurrency     = 4
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	// FirebaseCredentialsJSON is a service account key. When empty the
	// Firebase clients fall back to Application Default Credentials.
	FirebaseCredentialsJSON string
	UsersCollection         string
	CacheTTL                time.Duration
	MaxConcurrentBatches    int
	BatchesPerSecond        float64
	Notification            pipeline.NotificationConfig

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig

	// Async ingestion is enabled only when SubscriptionID is set.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether chat events are consumed from Pub/Sub.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	envProjectID := os.Getenv("PROJECT_ID")
	if envProjectID != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = envProjectID
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); val != "" {
		logger.Debug("Overriding config value", "key", "FIREBASE_SERVICE_ACCOUNT_JSON", "source", "env")
		cfg.FirebaseCredentialsJSON = val
	}
	if val := os.Getenv("USERS_COLLECTION"); val != "" {
		logger.Debug("Overriding config value", "key", "USERS_COLLECTION", "source", "env")
		cfg.UsersCollection = val
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("%w: CACHE_TTL %q: %w", dispatch.ErrConfiguration, val, err)
		}
		logger.Debug("Overriding config value", "key", "CACHE_TTL", "source", "env")
		cfg.CacheTTL = ttl
	}
	if val := os.Getenv("MAX_CONCURRENT_BATCHES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "MAX_CONCURRENT_BATCHES", "source", "env")
			cfg.MaxConcurrentBatches = n
		}
	}
	if val := os.Getenv("BATCHES_PER_SECOND"); val != "" {
		if n, err := strconv.ParseFloat(val, 64); err == nil && n >= 0 {
			logger.Debug("Overriding config value", "key", "BATCHES_PER_SECOND", "source", "env")
			cfg.BatchesPerSecond = n
		}
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	// Project precedence: PROJECT_ID, then the service account, then YAML.
	if cfg.FirebaseCredentialsJSON != "" {
		projectID, err := credentialsProjectID(cfg.FirebaseCredentialsJSON)
		if err != nil {
			return nil, err
		}
		if envProjectID == "" && projectID != "" {
			logger.Debug("Overriding config value", "key", "project_id", "source", "service_account")
			cfg.ProjectID = projectID
		}
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required (set via YAML, PROJECT_ID or the service account JSON)", dispatch.ErrConfiguration)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("%w: redis is enabled but no address is set", dispatch.ErrConfiguration)
	}
	if cfg.PipelineEnabled() && cfg.TopicID == "" {
		return nil, fmt.Errorf("%w: topic_id is required when subscription_id is set", dispatch.ErrConfiguration)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.UsersCollection == "" {
		cfg.UsersCollection = defaultUsersCollection
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = defaultConcurrency
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// credentialsProjectID checks the service account JSON parses and returns
// its project_id, if any.
func credentialsProjectID(raw string) (string, error) {
	var key struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return "", fmt.Errorf("%w: FIREBASE_SERVICE_ACCOUNT_JSON is not valid JSON: %w", dispatch.ErrConfiguration, err)
	}
	return key.ProjectID, nil
}
