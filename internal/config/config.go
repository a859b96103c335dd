// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/vitals-monitor/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	PageSpeed PageSpeedConfig `mapstructure:"pagespeed"`
	CrUX      CrUXConfig      `mapstructure:"crux"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Email     EmailConfig     `mapstructure:"email"`
	AI        AIConfig        `mapstructure:"ai"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Cron      CronConfig      `mapstructure:"cron"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AppURL         string        `mapstructure:"app_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PageSpeedConfig configures the audit API client.
type PageSpeedConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Endpoint          string        `mapstructure:"endpoint"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// CrUXConfig configures the real-user history client. An empty APIKey falls
// back to the PageSpeed key.
type CrUXConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// QueueConfig selects how scheduled jobs are delivered.
type QueueConfig struct {
	Provider string       `mapstructure:"provider"`
	QStash   QStashConfig `mapstructure:"qstash"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
	Memory   MemoryQueue  `mapstructure:"memory"`
}

// QStashConfig holds the publish token and signing keys.
type QStashConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Token             string `mapstructure:"token"`
	Destination       string `mapstructure:"destination"`
	CurrentSigningKey string `mapstructure:"current_signing_key"`
	NextSigningKey    string `mapstructure:"next_signing_key"`
}

// PubSubConfig identifies the Pub/Sub topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MemoryQueue sizes the in-process queue and its workers.
type MemoryQueue struct {
	Capacity int `mapstructure:"capacity"`
	Workers  int `mapstructure:"workers"`
}

// EmailConfig configures transactional email.
type EmailConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
}

// AIConfig configures remediation plan generation.
type AIConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Endpoint  string        `mapstructure:"endpoint"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig selects where raw reports are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// AuthConfig configures session token validation.
type AuthConfig struct {
	SessionSecret string `mapstructure:"session_secret"`
	Issuer        string `mapstructure:"issuer"`
	CookieName    string `mapstructure:"cookie_name"`
}

// CronConfig holds the shared secret for the scheduler trigger route.
type CronConfig struct {
	Secret string `mapstructure:"secret"`
}

// ThrottleConfig limits manual audits per user.
type ThrottleConfig struct {
	PerMinute float64 `mapstructure:"per_minute"`
	Burst     int     `mapstructure:"burst"`
}

// TasksConfig sizes the detached background pool.
type TasksConfig struct {
	Workers     int           `mapstructure:"workers"`
	BufferSize  int           `mapstructure:"buffer_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Queue providers. QueueNone runs scheduled audits inline.
const (
	QueueNone   = "none"
	QueueMemory = "memory"
	QueueQStash = "qstash"
	QueuePubSub = "pubsub"
)

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VITALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.app_url", "http://localhost:3000")
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("pagespeed.api_key", "")
	v.SetDefault("pagespeed.endpoint", "")
	v.SetDefault("pagespeed.timeout", "90s")
	v.SetDefault("pagespeed.requests_per_second", 4)
	v.SetDefault("crux.enabled", true)
	v.SetDefault("crux.api_key", "")
	v.SetDefault("crux.endpoint", "")
	v.SetDefault("crux.timeout", "20s")
	v.SetDefault("queue.provider", QueueNone)
	v.SetDefault("queue.qstash.base_url", "https://qstash.upstash.io")
	v.SetDefault("queue.qstash.token", "")
	v.SetDefault("queue.qstash.destination", "")
	v.SetDefault("queue.qstash.current_signing_key", "")
	v.SetDefault("queue.qstash.next_signing_key", "")
	v.SetDefault("queue.pubsub.project_id", "")
	v.SetDefault("queue.pubsub.topic_id", "")
	v.SetDefault("queue.memory.capacity", 256)
	v.SetDefault("queue.memory.workers", 2)
	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.from", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.endpoint", "")
	v.SetDefault("ai.model", "claude-sonnet-4-5")
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("ai.timeout", "90s")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.local_dir", "data/reports")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.gcs_prefix", "")
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.issuer", "vitals-monitor")
	v.SetDefault("auth.cookie_name", "session")
	v.SetDefault("cron.secret", "")
	v.SetDefault("throttle.per_minute", 6)
	v.SetDefault("throttle.burst", 3)
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.buffer_size", 256)
	v.SetDefault("tasks.task_timeout", "60s")
	v.SetDefault("telemetry.service_name", "vitals-monitor")
	v.SetDefault("telemetry.tracing_enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of postgres, memory (got %q)", c.Store.Driver)
	}
	if c.PageSpeed.RequestsPerSecond < 0 {
		return fmt.Errorf("pagespeed.requests_per_second must be >= 0")
	}
	switch c.Queue.Provider {
	case QueueNone:
	case QueueMemory:
		if c.Queue.Memory.Capacity <= 0 || c.Queue.Memory.Workers <= 0 {
			return fmt.Errorf("queue.memory.capacity and queue.memory.workers must be > 0")
		}
	case QueueQStash:
		if c.Queue.QStash.Token == "" || c.Queue.QStash.Destination == "" {
			return fmt.Errorf("queue.qstash.token and queue.qstash.destination are required for qstash")
		}
	case QueuePubSub:
		if c.Queue.PubSub.ProjectID == "" || c.Queue.PubSub.TopicID == "" {
			return fmt.Errorf("queue.pubsub.project_id and queue.pubsub.topic_id are required for pubsub")
		}
	default:
		return fmt.Errorf("queue.provider must be one of none, memory, qstash, pubsub (got %q)", c.Queue.Provider)
	}
	if (c.Email.ResendAPIKey == "") != (c.Email.From == "") {
		return fmt.Errorf("email.resend_api_key and email.from must be set together")
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider must be one of none, memory, local, gcs (got %q)", c.Archive.Provider)
	}
	if c.Throttle.PerMinute < 0 {
		return fmt.Errorf("throttle.per_minute must be >= 0")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be > 0")
	}
	return nil
}

// Capabilities is the set of optional collaborators resolved once at
// startup. Components receive the resolved value and never re-read config.
type Capabilities struct {
	Queue         string
	SignedJobs    bool
	Email         bool
	AIPlans       bool
	History       bool
	Archive       string
	CronProtected bool
}

// Capabilities derives which optional collaborators are enabled.
func (c Config) Capabilities() Capabilities {
	return Capabilities{
		Queue:         c.Queue.Provider,
		SignedJobs:    c.Queue.QStash.CurrentSigningKey != "" || c.Queue.QStash.NextSigningKey != "",
		Email:         c.Email.ResendAPIKey != "" && c.Email.From != "",
		AIPlans:       c.AI.APIKey != "",
		History:       c.CrUX.Enabled && c.CrUXKey() != "",
		Archive:       c.Archive.Provider,
		CronProtected: c.Cron.Secret != "",
	}
}

// CrUXKey returns the history API key, falling back to the PageSpeed key.
func (c Config) CrUXKey() string {
	if c.CrUX.APIKey != "" {
		return c.CrUX.APIKey
	}
	return c.PageSpeed.APIKey
}
