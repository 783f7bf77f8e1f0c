package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"socialnotify/pkg/config"
)

type NotificationConfig struct {
	ContentMaxLength int `yaml:"content_max_length"`
	// 按通知类型覆盖邮件策略：preference / always / never
	EmailPolicy map[string]string `yaml:"email_policy"`
}

type EmailConfig struct {
	ProviderURL    string  `yaml:"provider_url"`
	APIKey         string  `yaml:"api_key"`
	From           string  `yaml:"from"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
}

type JobsConfig struct {
	PollIntervalMs    int    `yaml:"poll_interval_ms"`
	BatchSize         int    `yaml:"batch_size"`
	Concurrency       int    `yaml:"concurrency"`
	MaxAttempts       int    `yaml:"max_attempts"`
	BaseDelayMs       int    `yaml:"base_delay_ms"`
	MaxDelayMs        int    `yaml:"max_delay_ms"`
	LeaseSeconds      int    `yaml:"lease_seconds"`
	ReaperCron        string `yaml:"reaper_cron"`
	JobTimeoutSeconds int    `yaml:"job_timeout_seconds"`
}

type MigrationsConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	DB           config.DBConfig     `yaml:"db"`
	MQ           config.MQConfig     `yaml:"mq"`
	Redis        config.RedisConfig  `yaml:"redis"`
	JWT          config.JWTConfig    `yaml:"jwt"`
	Server       config.ServerConfig `yaml:"server"`
	Log          config.LogConfig    `yaml:"log"`
	Otel         config.OtelConfig   `yaml:"otel"`
	Notification NotificationConfig  `yaml:"notification"`
	Email        EmailConfig         `yaml:"email"`
	Jobs         JobsConfig          `yaml:"jobs"`
	Migrations   MigrationsConfig    `yaml:"migrations"`
}

// Load 使用统一配置中心：base.yaml + <env>.yaml + secrets.env，再由环境变量覆盖
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, configDir)
}

func LoadFrom(env, configDir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQ.Queue == "" {
		c.MQ.Queue = "notification.events.q"
	}
	if c.MQ.Prefetch <= 0 {
		c.MQ.Prefetch = 10
	}
	if c.MQ.MaxRedeliveries <= 0 {
		c.MQ.MaxRedeliveries = 3
	}
	if c.MQ.ConnectAttempts <= 0 {
		c.MQ.ConnectAttempts = 5
	}
	if c.MQ.ConnectDelayMs <= 0 {
		c.MQ.ConnectDelayMs = 1000
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Migrations.Path == "" {
		c.Migrations.Path = "file://migrations"
	}
	if c.Email.TimeoutSeconds <= 0 {
		c.Email.TimeoutSeconds = 10
	}

	j := &c.Jobs
	if j.PollIntervalMs <= 0 {
		j.PollIntervalMs = 1000
	}
	if j.BatchSize <= 0 {
		j.BatchSize = 20
	}
	if j.Concurrency <= 0 {
		j.Concurrency = 4
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 5
	}
	if j.BaseDelayMs <= 0 {
		j.BaseDelayMs = 5000
	}
	if j.MaxDelayMs <= 0 {
		j.MaxDelayMs = 600000
	}
	if j.LeaseSeconds <= 0 {
		j.LeaseSeconds = 300
	}
	if j.ReaperCron == "" {
		j.ReaperCron = "@every 1m"
	}
	if j.JobTimeoutSeconds <= 0 {
		j.JobTimeoutSeconds = 30
	}
}

// Validate 只检查启动必需的配置，缺失即拒绝启动
func (c *Config) Validate() error {
	var errs []error
	if c.DB.Host == "" || c.DB.Name == "" {
		errs = append(errs, errors.New("db.host and db.name are required"))
	}
	if c.MQ.URL == "" {
		errs = append(errs, errors.New("mq.url is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if strings.TrimSpace(c.Email.APIKey) == "" {
		errs = append(errs, errors.New("email.api_key is required"))
	}
	if c.Email.ProviderURL == "" {
		errs = append(errs, errors.New("email.provider_url is required"))
	}
	return errors.Join(errs...)
}

func (j JobsConfig) PollInterval() time.Duration {
	return time.Duration(j.PollIntervalMs) * time.Millisecond
}

func (j JobsConfig) BaseDelay() time.Duration {
	return time.Duration(j.BaseDelayMs) * time.Millisecond
}

func (j JobsConfig) MaxDelay() time.Duration {
	return time.Duration(j.MaxDelayMs) * time.Millisecond
}

func (j JobsConfig) Lease() time.Duration {
	return time.Duration(j.LeaseSeconds) * time.Second
}

func (j JobsConfig) JobTimeout() time.Duration {
	return time.Duration(j.JobTimeoutSeconds) * time.Second
}

func (e EmailConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}
