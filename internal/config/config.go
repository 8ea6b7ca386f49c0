// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL        string `yaml:"url"` // optional; enables chunk-job dedup
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	DedupTTLMs int64  `yaml:"dedup_ttl_ms"`

	DedupTTL time.Duration `yaml:"-"`
}

type KafkaTopics struct {
	ChunkJobs     string `yaml:"chunk_jobs"`
	SendJobs      string `yaml:"send_jobs"`
	StatusUpdates string `yaml:"status_updates"`
}

type KafkaConfig struct {
	Brokers     []string    `yaml:"brokers"`
	ClientID    string      `yaml:"client_id"`
	GroupPrefix string      `yaml:"group_prefix"`
	Topics      KafkaTopics `yaml:"topics"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

// PipelineConfig bounds chunking and expansion.
type PipelineConfig struct {
	DefaultChunkSize    int `yaml:"default_chunk_size"`
	MaxChunkSize        int `yaml:"max_chunk_size"`
	MaxRecipientsPerJob int `yaml:"max_recipients_per_job"`
	RecipientBatchSize  int `yaml:"recipient_batch_size"`
}

// SenderConfig bounds delivery throughput and retries. The rate limit window
// is per process: running multiple send workers multiplies the effective rate.
type SenderConfig struct {
	MaxMessagesPerMinute int   `yaml:"max_messages_per_minute"`
	MaxSendAttempts      int   `yaml:"max_send_attempts"`
	RetryBaseDelayMs     int64 `yaml:"retry_base_delay_ms"`
	SendConcurrency      int   `yaml:"send_concurrency"`

	RetryBaseDelay time.Duration `yaml:"-"`
}

// ChannelConfig tunes the connection manager's reconnect and circuit breaker
// behavior.
type ChannelConfig struct {
	MaxReconnectAttempts  int   `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelayMs  int64 `yaml:"reconnect_base_delay_ms"`
	CircuitMaxFailures    int   `yaml:"circuit_max_failures"`
	CircuitResetTimeoutMs int64 `yaml:"circuit_reset_timeout_ms"`
	HeartbeatIntervalMs   int64 `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs    int64 `yaml:"heartbeat_timeout_ms"`

	ReconnectBaseDelay  time.Duration `yaml:"-"`
	CircuitResetTimeout time.Duration `yaml:"-"`
	HeartbeatInterval   time.Duration `yaml:"-"`
	HeartbeatTimeout    time.Duration `yaml:"-"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Telegram TelegramConfig `yaml:"telegram"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sender   SenderConfig   `yaml:"sender"`
	Channel  ChannelConfig  `yaml:"channel"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka.brokers is required")
	}
	if cfg.Telegram.Token == "" {
		return nil, errors.New("telegram.token is required")
	}
	if cfg.Pipeline.DefaultChunkSize > cfg.Pipeline.MaxChunkSize {
		return nil, fmt.Errorf("pipeline.default_chunk_size %d exceeds max %d",
			cfg.Pipeline.DefaultChunkSize, cfg.Pipeline.MaxChunkSize)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 3003
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "campaign-workers"
	}
	if cfg.Kafka.GroupPrefix == "" {
		cfg.Kafka.GroupPrefix = "campaign-workers-group"
	}
	if cfg.Kafka.Topics.ChunkJobs == "" {
		cfg.Kafka.Topics.ChunkJobs = "campaign.chunk_jobs"
	}
	if cfg.Kafka.Topics.SendJobs == "" {
		cfg.Kafka.Topics.SendJobs = "campaign.send_jobs"
	}
	if cfg.Kafka.Topics.StatusUpdates == "" {
		cfg.Kafka.Topics.StatusUpdates = "campaign.status_updates"
	}

	if cfg.Pipeline.DefaultChunkSize <= 0 {
		cfg.Pipeline.DefaultChunkSize = 100
	}
	if cfg.Pipeline.MaxChunkSize <= 0 {
		cfg.Pipeline.MaxChunkSize = 200
	}
	if cfg.Pipeline.MaxRecipientsPerJob <= 0 {
		cfg.Pipeline.MaxRecipientsPerJob = 1000
	}
	if cfg.Pipeline.RecipientBatchSize <= 0 {
		cfg.Pipeline.RecipientBatchSize = 100
	}

	if cfg.Sender.MaxMessagesPerMinute <= 0 {
		cfg.Sender.MaxMessagesPerMinute = 30
	}
	if cfg.Sender.MaxSendAttempts <= 0 {
		cfg.Sender.MaxSendAttempts = 3
	}
	if cfg.Sender.SendConcurrency <= 0 {
		cfg.Sender.SendConcurrency = 5
	}
	cfg.Sender.RetryBaseDelay = msOrDefault(cfg.Sender.RetryBaseDelayMs, 2*time.Second)

	if cfg.Channel.MaxReconnectAttempts <= 0 {
		cfg.Channel.MaxReconnectAttempts = 10
	}
	if cfg.Channel.CircuitMaxFailures <= 0 {
		cfg.Channel.CircuitMaxFailures = 5
	}
	cfg.Channel.ReconnectBaseDelay = msOrDefault(cfg.Channel.ReconnectBaseDelayMs, 5*time.Second)
	cfg.Channel.CircuitResetTimeout = msOrDefault(cfg.Channel.CircuitResetTimeoutMs, 30*time.Second)
	cfg.Channel.HeartbeatInterval = msOrDefault(cfg.Channel.HeartbeatIntervalMs, 30*time.Second)
	cfg.Channel.HeartbeatTimeout = msOrDefault(cfg.Channel.HeartbeatTimeoutMs, time.Minute)

	cfg.Redis.DedupTTL = msOrDefault(cfg.Redis.DedupTTLMs, 24*time.Hour)
}

func msOrDefault(ms int64, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
