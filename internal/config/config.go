package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Worker  Worker  `mapstructure:"worker"`
	Queue   Queue   `mapstructure:"queue"`
	Presets Presets `mapstructure:"presets"`
	Storage Storage `mapstructure:"storage"`
	Kafka   Kafka   `mapstructure:"kafka"`
	Retry   Retry   `mapstructure:"retry"`
	Inbox   Inbox   `mapstructure:"inbox"`
}

// Worker controls the background execution context.
type Worker struct {
	Enabled bool `mapstructure:"enabled"` // off means every call runs synchronously
	HEIC    bool `mapstructure:"heic"`    // preload the HEIC converter at start
}

// Queue holds orchestrator settings.
type Queue struct {
	Timeout time.Duration `mapstructure:"timeout"` // per-task processing limit
	Profile string        `mapstructure:"profile"` // options profile name
}

// Presets points at the optional preset and profile files.
type Presets struct {
	File         string `mapstructure:"file"`          // TOML preset definitions
	ProfilesFile string `mapstructure:"profiles_file"` // YAML option profiles
}

// Storage holds configuration for the export sink.
type Storage struct {
	Driver     string `mapstructure:"driver"` // "local" or "minio"
	LocalPath  string `mapstructure:"local_path"`
	Subdir     string `mapstructure:"subdir"`
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Kafka holds configuration for the intake consumer and event producer.
type Kafka struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`          // List of Kafka broker addresses
	GroupID        string   `mapstructure:"group_id"`         // Consumer group ID
	IntakeTopic    string   `mapstructure:"intake_topic"`     // inbound file announcements
	EventsTopic    string   `mapstructure:"events_topic"`     // task state events
	MaxIntakeBytes int64    `mapstructure:"max_intake_bytes"` // 0 = unlimited
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Inbox configures the watched drop folder.
type Inbox struct {
	Dir      string        `mapstructure:"dir"` // empty disables the watcher
	Debounce time.Duration `mapstructure:"debounce"`
}

var envBindings = map[string]string{
	"storage.access_key": "MINIO_ACCESS_KEY",
	"storage.secret_key": "MINIO_SECRET_KEY",
	"storage.endpoint":   "MINIO_ENDPOINT",
	"kafka.brokers":      "KAFKA_BROKERS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.enabled", true)
	v.SetDefault("queue.timeout", 2*time.Minute)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_path", "./exports")
	v.SetDefault("storage.subdir", "processed")
	v.SetDefault("kafka.group_id", "imgshift")
	v.SetDefault("kafka.intake_topic", "imgshift.intake")
	v.SetDefault("kafka.events_topic", "imgshift.events")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.backoff", 2.0)
	v.SetDefault("inbox.debounce", 500*time.Millisecond)
}

// Load reads the configuration from path (or ./config/config.yml when path
// is empty), a .env file if present and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zlog.Logger.Debug().Err(err).Msg(".env not loaded")
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}
	return cfg
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalPath == "" {
			return errors.New("storage.local_path is required for the local driver")
		}
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.BucketName == "" {
			return errors.New("storage.endpoint and storage.bucket_name are required for the minio driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Queue.Timeout < 0 {
		return errors.New("queue.timeout must not be negative")
	}

	return nil
}
