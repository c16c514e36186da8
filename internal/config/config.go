package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Payloads PayloadsConfig `mapstructure:"payloads"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PollerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// RunOnStart polls once immediately instead of waiting for the first boundary.
	RunOnStart bool `mapstructure:"run_on_start"`
	// MaxConcurrent bounds overlapping polls. Zero means unbounded.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Table    string         `mapstructure:"table"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type PayloadsConfig struct {
	Backend   string      `mapstructure:"backend"`
	Container string      `mapstructure:"container"`
	Local     LocalConfig `mapstructure:"local"`
	MinIO     MinIOConfig `mapstructure:"minio"`
}

type LocalConfig struct {
	Root string `mapstructure:"root"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

type AuthConfig struct {
	FunctionKeys []string `mapstructure:"function_keys"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("apilogger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/apilogger")
	}

	setDefaults(v)

	v.SetEnvPrefix("APILOGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Poller.Enabled && c.Poller.URL == "" {
		return errors.New("poller.url is required when the poller is enabled")
	}
	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if c.Poller.MaxConcurrent < 0 {
		return errors.New("poller.max_concurrent must not be negative")
	}
	if c.Payloads.Container == "" {
		return errors.New("payloads.container is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.url", "https://api.publicapis.org/random?auth=null")
	v.SetDefault("poller.interval", time.Minute)
	v.SetDefault("poller.timeout", 30*time.Second)
	v.SetDefault("poller.run_on_start", false)
	v.SetDefault("poller.max_concurrent", 0)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.table", "SuccessAndFailuresAttempts")
	v.SetDefault("storage.sqlite.path", "./data/apilogger.db")
	v.SetDefault("storage.postgres.url", "")

	v.SetDefault("payloads.backend", "local")
	v.SetDefault("payloads.container", "payloadforsuccess")
	v.SetDefault("payloads.local.root", "./data/payloads")
	v.SetDefault("payloads.minio.endpoint", "")
	v.SetDefault("payloads.minio.access_key", "")
	v.SetDefault("payloads.minio.secret_key", "")
	v.SetDefault("payloads.minio.use_ssl", false)
	v.SetDefault("payloads.minio.region", "")

	v.SetDefault("auth.function_keys", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
