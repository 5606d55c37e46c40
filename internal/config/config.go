package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type QueueConfig struct {
	Path string `yaml:"path"`
}

// DispatchConfig tunes the send pipeline and the scheduled-campaign worker.
type DispatchConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	ProviderQPS   float64       `yaml:"provider_qps"`
	ProviderBurst int           `yaml:"provider_burst"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type WebhookConfig struct {
	VerifyToken string `yaml:"verify_token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/reachkit/app.db"
	}
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = "/var/lib/reachkit/queue.db"
	}
	if cfg.Dispatch.Concurrency <= 0 {
		cfg.Dispatch.Concurrency = 5
	}
	if cfg.Dispatch.SendTimeout <= 0 {
		cfg.Dispatch.SendTimeout = 30 * time.Second
	}
	if cfg.Dispatch.ProviderQPS <= 0 {
		cfg.Dispatch.ProviderQPS = 10
	}
	if cfg.Dispatch.ProviderBurst <= 0 {
		cfg.Dispatch.ProviderBurst = 20
	}
	if cfg.Dispatch.PollInterval <= 0 {
		cfg.Dispatch.PollInterval = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Webhook.VerifyToken == "" {
		return fmt.Errorf("webhook.verify_token is required")
	}
	if len(cfg.Webhook.VerifyToken) < 16 {
		return fmt.Errorf("webhook.verify_token must be at least 16 characters")
	}
	return nil
}
