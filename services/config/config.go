// Package config loads the service configuration: YAML file, then defaults, then environment overrides
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"fade-backtest/services/arrowpipeline"
	"fade-backtest/services/monitoring"
)

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" default:"8080" validate:"gt=0,lte=65535"`
	GRPCPort        int           `yaml:"grpc_port" default:"9091" validate:"gt=0,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" default:"268435456" validate:"gt=0"`
}

type EngineConfig struct {
	MaxWorkers     int    `yaml:"max_workers" validate:"gte=0"`
	MaxSweepCombos int    `yaml:"max_sweep_combos" default:"256" validate:"gt=0"`
	ConfigPath     string `yaml:"config_path"`
	MaxJobs        int    `yaml:"max_jobs" default:"100" validate:"gt=0"`
}

type ClickHouseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	DSN         string        `yaml:"dsn"`
	Addr        []string      `yaml:"addr" default:"[\"localhost:9000\"]"`
	Database    string        `yaml:"database" default:"backtest"`
	Username    string        `yaml:"username" default:"default"`
	Password    string        `yaml:"password"`
	BarsTable   string        `yaml:"bars_table" default:"bars_1m"`
	TradesTable string        `yaml:"trades_table" default:"fade_trades"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"10s"`
	Symbol      string        `yaml:"symbol" default:"NQ"`
}

type Config struct {
	Environment string               `yaml:"environment" default:"dev" validate:"oneof=dev staging prod"`
	LogLevel    string               `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	Server      ServerConfig         `yaml:"server"`
	Engine      EngineConfig         `yaml:"engine"`
	ClickHouse  ClickHouseConfig     `yaml:"clickhouse"`
	Arrow       arrowpipeline.Config `yaml:"arrow"`
	Monitoring  monitoring.Config    `yaml:"monitoring"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path (optional), fills defaults, applies FADE_* environment overrides and validates
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("FADE_ENV", &c.Environment)
	str("FADE_LOG_LEVEL", &c.LogLevel)
	if err := num("FADE_HTTP_PORT", &c.Server.HTTPPort); err != nil {
		return err
	}
	if err := num("FADE_GRPC_PORT", &c.Server.GRPCPort); err != nil {
		return err
	}
	if err := num("FADE_MAX_WORKERS", &c.Engine.MaxWorkers); err != nil {
		return err
	}
	str("FADE_ENGINE_CONFIG", &c.Engine.ConfigPath)
	if v, ok := lookup("FADE_CLICKHOUSE_DSN"); ok && v != "" {
		c.ClickHouse.DSN = v
		c.ClickHouse.Enabled = true
	}
	if v, ok := lookup("FADE_CLICKHOUSE_ADDR"); ok && v != "" {
		c.ClickHouse.Addr = strings.Split(v, ",")
		c.ClickHouse.Enabled = true
	}
	str("FADE_CLICKHOUSE_USER", &c.ClickHouse.Username)
	str("FADE_CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	return nil
}
