// Package config - Application configuration loaded from config/config.yaml and REMBG_ variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/nvr-ai/go-rembg/events"
	"github.com/nvr-ai/go-rembg/store"
)

// EnvPrefix prefixes every environment override, e.g. REMBG_SERVER_PORT.
const EnvPrefix = "REMBG"

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Models   ModelsConfig   `mapstructure:"models"`
	Store    StoreConfig    `mapstructure:"store"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Events   EventsConfig   `mapstructure:"events"`
	Host     HostConfig     `mapstructure:"host"`
	Profiler ProfilerConfig `mapstructure:"profiler"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes bounds the multipart memory of one upload request.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// LogConfig selects the log level and formatter.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is "json" or "text".
	Format string `mapstructure:"format"`
}

// ModelsConfig locates the model files and the ONNX Runtime library.
type ModelsConfig struct {
	// Dir holds the ONNX model files.
	Dir string `mapstructure:"dir"`
	// SharedLibrary is the onnxruntime library path. Empty uses the platform default.
	SharedLibrary string `mapstructure:"shared_library"`
	// Accelerator is auto, none, cuda or coreml.
	Accelerator string `mapstructure:"accelerator"`
	// Preferred is the model id requested at startup. Empty selects by hardware.
	Preferred string `mapstructure:"preferred"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend  string               `mapstructure:"backend"`
	Postgres store.PostgresConfig `mapstructure:"postgres"`
	Redis    store.RedisConfig    `mapstructure:"redis"`
}

// QueueConfig holds the processing queue settings.
type QueueConfig struct {
	// SweepSchedule is a cron spec. Empty disables the sweeper.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// EventsConfig configures event publishing.
type EventsConfig struct {
	Kafka events.KafkaConfig `mapstructure:"kafka"`
}

// HostConfig configures the host document used for insertion.
type HostConfig struct {
	// WebhookURL receives pasted HTML fragments. Empty disables host insertion.
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ProfilerConfig holds the profiler settings.
type ProfilerConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
	MaxSamples     int           `mapstructure:"max_samples"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", 64<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("models.dir", "./data/models")
	v.SetDefault("models.shared_library", "")
	v.SetDefault("models.accelerator", "auto")
	v.SetDefault("models.preferred", "")

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.dbname", "rembg")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.max_open_conns", 10)
	v.SetDefault("store.postgres.max_idle_conns", 5)
	v.SetDefault("store.postgres.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "rembg:")

	v.SetDefault("queue.sweep_schedule", "@every 30s")

	v.SetDefault("events.kafka.enabled", false)
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "rembg-events")
	v.SetDefault("events.kafka.write_timeout", 10*time.Second)
	v.SetDefault("events.kafka.dial_timeout", 5*time.Second)

	v.SetDefault("host.webhook_url", "")
	v.SetDefault("host.timeout", 10*time.Second)

	v.SetDefault("profiler.report_interval", time.Minute)
	v.SetDefault("profiler.max_samples", 600)
}

// LoadConfig builds a viper instance with defaults, the optional config file and environment
// overrides.
//
// Arguments:
//   - paths: Directories searched for config.yaml. Defaults to ./config.
//
// Returns:
//   - *viper.Viper: The configured instance.
//   - error: An error if a config file exists but cannot be read.
func LoadConfig(paths ...string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return v, nil
}

// ParseConfig decodes v into a Config and validates it.
func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads the configuration from paths and the environment.
func Load(paths ...string) (*Config, error) {
	v, err := LoadConfig(paths...)
	if err != nil {
		return nil, err
	}
	return ParseConfig(v)
}

// Validate checks values that have a fixed set of choices.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return errors.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	return nil
}
