package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig               `mapstructure:"server"`
	Database   DatabaseConfig             `mapstructure:"database"`
	Sources    map[string]SourceAuth      `mapstructure:"sources"`
	Ingest     IngestConfig               `mapstructure:"ingest"`
	Queue      QueueConfig                `mapstructure:"queue"`
	Worker     WorkerConfig               `mapstructure:"worker"`
	Sweep      SweepConfig                `mapstructure:"sweep"`
	Resilience ResilienceConfig           `mapstructure:"resilience"`
	Merge      MergeConfig                `mapstructure:"merge"`
	Compliance ComplianceConfig           `mapstructure:"compliance"`
	Alerting   AlertingConfig             `mapstructure:"alerting"`
	Connectors map[string]ConnectorConfig `mapstructure:"connectors"`
	JWT        JWTConfig                  `mapstructure:"jwt"`
	RateLimit  RateLimitConfig            `mapstructure:"rate_limit"`
	Logging    LoggingConfig              `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres". Inferred from URL when empty.
	Driver         string `mapstructure:"driver"`
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// SourceAuth describes how a webhook source authenticates its deliveries.
// Scheme is one of "shared_secret", "basic" or "hmac".
type SourceAuth struct {
	Scheme       string `mapstructure:"scheme"`
	Header       string `mapstructure:"header"`
	Secret       string `mapstructure:"secret"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

type IngestConfig struct {
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	DedupWindow  time.Duration `mapstructure:"dedup_window"`
}

type QueueConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
}

type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	// DepthInterval is how often the queue depth gauge is refreshed.
	DepthInterval time.Duration `mapstructure:"depth_interval"`
}

type SweepConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
}

type ResilienceConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	Multiplier       float64       `mapstructure:"multiplier"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type MergeConfig struct {
	PrimarySource string `mapstructure:"primary_source"`
}

type ComplianceConfig struct {
	OptOutTag string `mapstructure:"opt_out_tag"`
	OptInTag  string `mapstructure:"opt_in_tag"`
}

type AlertingConfig struct {
	Interval    time.Duration              `mapstructure:"interval"`
	Window      time.Duration              `mapstructure:"window"`
	RepeatAfter time.Duration              `mapstructure:"repeat_after"`
	Thresholds  map[string]ThresholdConfig `mapstructure:"thresholds"`
	Sink        AlertSinkConfig            `mapstructure:"sink"`
}

type ThresholdConfig struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// AlertSinkConfig selects where alert notifications go. Kind is "log", "webhook" or "amqp".
type AlertSinkConfig struct {
	Kind       string        `mapstructure:"kind"`
	URL        string        `mapstructure:"url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Exchange   string        `mapstructure:"exchange"`
	RoutingKey string        `mapstructure:"routing_key"`
}

type ConnectorConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	WebhooksPerMinute int `mapstructure:"webhooks_per_minute"`
	AdminPerMinute    int `mapstructure:"admin_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.url", "file:data/hooksync.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("ingest.max_body_bytes", 1<<20)
	v.SetDefault("ingest.dedup_window", 5*time.Minute)

	v.SetDefault("queue.max_retries", 5)
	v.SetDefault("queue.base_backoff", 10*time.Second)
	v.SetDefault("queue.max_backoff", 10*time.Minute)
	v.SetDefault("queue.lease_timeout", 5*time.Minute)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.job_timeout", 2*time.Minute)
	v.SetDefault("worker.depth_interval", 30*time.Second)

	v.SetDefault("sweep.interval", time.Minute)
	v.SetDefault("sweep.stale_after", 10*time.Minute)
	v.SetDefault("sweep.batch_size", 100)
	v.SetDefault("sweep.concurrency", 2)

	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.base_delay", 200*time.Millisecond)
	v.SetDefault("resilience.max_delay", 5*time.Second)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.success_threshold", 2)
	v.SetDefault("resilience.cooldown", 30*time.Second)

	v.SetDefault("merge.primary_source", "crm")

	v.SetDefault("compliance.opt_out_tag", "sys:sms-opted-out")
	v.SetDefault("compliance.opt_in_tag", "sys:sms-opted-in")

	v.SetDefault("alerting.interval", 5*time.Minute)
	v.SetDefault("alerting.window", time.Hour)
	v.SetDefault("alerting.repeat_after", 30*time.Minute)
	v.SetDefault("alerting.thresholds", map[string]interface{}{
		"webhook_error_rate": map[string]interface{}{"warning": 0.05, "critical": 0.20},
		"sync_error_rate":    map[string]interface{}{"warning": 0.05, "critical": 0.20},
		"queue_depth":        map[string]interface{}{"warning": 500, "critical": 2000},
		"external_errors":    map[string]interface{}{"warning": 10, "critical": 50},
	})
	v.SetDefault("alerting.sink.kind", "log")
	v.SetDefault("alerting.sink.timeout", 10*time.Second)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", time.Hour)

	v.SetDefault("rate_limit.webhooks_per_minute", 6000)
	v.SetDefault("rate_limit.admin_per_minute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads the YAML config at path. A missing file is not an error: defaults and
// environment variables (e.g. DATABASE_URL, JWT_SECRET) still apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Watch re-reads the logging section whenever the config file changes.
func Watch(path string, onChange func(LoggingConfig)) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var logging LoggingConfig
		if err := v.UnmarshalKey("logging", &logging); err != nil {
			return
		}
		onChange(logging)
	})
	v.WatchConfig()
}
