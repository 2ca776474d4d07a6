package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-chatpush-service/internal/pipeline"
	"github.com/tinywideclouds/go-chatpush-service/pkg/dispatch"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlNotificationConfig struct {
	Title        string `yaml:"title"`
	FallbackName string `yaml:"fallback_name"`
	DefaultRoom  string `yaml:"default_room"`
	Icon         string `yaml:"icon"`
	Badge        string `yaml:"badge"`
	Link         string `yaml:"link"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID               string                 `yaml:"project_id"`
	ListenAddr              string                 `yaml:"listen_addr"`
	FirebaseCredentialsJSON string                 `yaml:"firebase_credentials_json"`
	UsersCollection         string                 `yaml:"users_collection"`
	CacheTTL                string                 `yaml:"cache_ttl"`
	MaxConcurrentBatches    int                    `yaml:"max_concurrent_batches"`
	BatchesPerSecond        float64                `yaml:"batches_per_second"`
	Notification            YamlNotificationConfig `yaml:"notification"`
	TopicID                 string                 `yaml:"topic_id"`
	SubscriptionID          string                 `yaml:"subscription_id"`
	SubscriptionDLQTopicID  string                 `yaml:"subscription_dlq_topic_id"`
	CorsConfig              YamlCorsConfig         `yaml:"cors"`
	RedisConfig             YamlRedisConfig        `yaml:"redis"`
	NumPipelineWorkers      int                    `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Unset notification fields keep their built-in defaults.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var ttl time.Duration
	if baseCfg.CacheTTL != "" {
		parsed, err := time.ParseDuration(baseCfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: cache_ttl %q: %w", dispatch.ErrConfiguration, baseCfg.CacheTTL, err)
		}
		ttl = parsed
	}

	notif := pipeline.DefaultNotificationConfig()
	overrideString(&notif.Title, baseCfg.Notification.Title)
	overrideString(&notif.FallbackName, baseCfg.Notification.FallbackName)
	overrideString(&notif.DefaultRoom, baseCfg.Notification.DefaultRoom)
	overrideString(&notif.Icon, baseCfg.Notification.Icon)
	overrideString(&notif.Badge, baseCfg.Notification.Badge)
	overrideString(&notif.Link, baseCfg.Notification.Link)

	cfg := &Config{
		ProjectID:               baseCfg.ProjectID,
		ListenAddr:              baseCfg.ListenAddr,
		FirebaseCredentialsJSON: baseCfg.FirebaseCredentialsJSON,
		UsersCollection:         baseCfg.UsersCollection,
		CacheTTL:                ttl,
		MaxConcurrentBatches:    baseCfg.MaxConcurrentBatches,
		BatchesPerSecond:        baseCfg.BatchesPerSecond,
		Notification:            notif,
		TopicID:                 baseCfg.TopicID,
		SubscriptionID:          baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"users_collection", cfg.UsersCollection,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

func overrideString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}
