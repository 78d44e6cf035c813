// Package config loads service settings from a YAML file, SAKSFLYT_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// SAKSFLYT_STORE_DRIVER for store.driver.
const EnvPrefix = "SAKSFLYT"

type Config struct {
	Log       Log       `yaml:"log" mapstructure:"log"`
	Store     Store     `yaml:"store" mapstructure:"store"`
	Casework  Casework  `yaml:"casework" mapstructure:"casework"`
	Bus       Bus       `yaml:"bus" mapstructure:"bus"`
	Redis     Redis     `yaml:"redis" mapstructure:"redis"`
	Mongo     Mongo     `yaml:"mongo" mapstructure:"mongo"`
	Worker    Worker    `yaml:"worker" mapstructure:"worker"`
	Engine    Engine    `yaml:"engine" mapstructure:"engine"`
	Advisory  Advisory  `yaml:"advisory" mapstructure:"advisory"`
	Telemetry Telemetry `yaml:"telemetry" mapstructure:"telemetry"`
}

type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Store selects where event records live.
type Store struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// Casework selects where cases, reviews, overrides and warnings live.
type Casework struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type Bus struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type Redis struct {
	Addr   string `yaml:"addr" mapstructure:"addr"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

type Mongo struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Database string `yaml:"database" mapstructure:"database"`
}

type Worker struct {
	Count       int           `yaml:"count" mapstructure:"count"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff" mapstructure:"backoff"`
	Multiplier  float64       `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	MaxBackoff  time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

type Engine struct {
	LeaseTTL time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
}

type Advisory struct {
	ForeignUnits []string      `yaml:"foreign_units" mapstructure:"foreign_units"`
	CacheDriver  string        `yaml:"cache_driver" mapstructure:"cache_driver"`
	CacheTTL     time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// Telemetry enables OTLP/HTTP trace export when Endpoint is set.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("casework.driver", "memory")
	v.SetDefault("casework.dsn", "")
	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.dsn", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "saksflyt:")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "saksflyt")
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.backoff", 100*time.Millisecond)
	v.SetDefault("worker.backoff_multiplier", 2.0)
	v.SetDefault("worker.max_backoff", 5*time.Second)
	v.SetDefault("engine.lease_ttl", 30*time.Second)
	v.SetDefault("advisory.foreign_units", []string{"2101"})
	v.SetDefault("advisory.cache_driver", "memory")
	v.SetDefault("advisory.cache_ttl", 24*time.Hour)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "saksflyt")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (if not empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	// Comma-separated lists from the environment arrive as one element.
	if len(cfg.Advisory.ForeignUnits) == 1 && strings.Contains(cfg.Advisory.ForeignUnits[0], ",") {
		cfg.Advisory.ForeignUnits = strings.Split(cfg.Advisory.ForeignUnits[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %s", key, value, strings.Join(allowed, ", "))
}

// Validate checks driver names and the settings each driver needs.
func (c Config) Validate() error {
	var errs []error
	errs = append(errs,
		oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error"),
		oneOf("log.format", c.Log.Format, "text", "json"),
		oneOf("store.driver", c.Store.Driver, "memory", "sqlite", "postgres", "redis", "mongo"),
		oneOf("casework.driver", c.Casework.Driver, "memory", "sqlite", "postgres"),
		oneOf("bus.driver", c.Bus.Driver, "memory", "sqlite", "redis"),
		oneOf("advisory.cache_driver", c.Advisory.CacheDriver, "memory", "redis"),
	)
	if (c.Store.Driver == "sqlite" || c.Store.Driver == "postgres") && c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
	}
	if c.Casework.Driver != "memory" && c.Casework.DSN == "" {
		errs = append(errs, fmt.Errorf("casework.dsn is required for driver %s", c.Casework.Driver))
	}
	if c.Bus.Driver == "sqlite" && c.Bus.DSN == "" {
		errs = append(errs, errors.New("bus.dsn is required for driver sqlite"))
	}
	if c.Worker.Count < 1 {
		errs = append(errs, errors.New("worker.count must be at least 1"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, errors.New("worker.max_attempts must be at least 1"))
	}
	if c.Engine.LeaseTTL <= 0 {
		errs = append(errs, errors.New("engine.lease_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// SlogLevel maps Log.Level to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// YAML renders the effective configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
