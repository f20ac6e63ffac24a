// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	HostBridge HostBridgeConfig `yaml:"host_bridge"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Engine     EngineConfig     `yaml:"engine"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HostBridgeConfig points at the companion shim that exposes the browser's
// history and browsing-data capabilities over HTTP.
type HostBridgeConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type EngineConfig struct {
	MaxDeletesPerMinute int           `yaml:"max_deletes_per_minute"`
	DedupWindow         time.Duration `yaml:"dedup_window"`
	DedupCapacity       int           `yaml:"dedup_capacity"`
	BufferCapacity      int           `yaml:"buffer_capacity"`
	BufferMaxAttempts   int           `yaml:"buffer_max_attempts"`
	BufferRetrySpacing  time.Duration `yaml:"buffer_retry_spacing"`
	BufferMaxAge        time.Duration `yaml:"buffer_max_age"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	AlarmFloor          time.Duration `yaml:"alarm_floor"`
	CacheClearInterval  time.Duration `yaml:"cache_clear_interval"`
	ActionLogCapacity   int           `yaml:"action_log_capacity"`
	HistorySearchMax    int           `yaml:"history_search_max"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a config with every default applied, for embedding the
// engine without a config file.
func Default() *Config {
	var config Config
	setDefaults(&config)
	return &config
}

func setDefaults(config *Config) {
	if config.Server.Port == "" {
		config.Server.Port = ":8099"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 10 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 10 * time.Second
	}
	if config.Database.Path == "" {
		config.Database.Path = "data/tracewipe.db"
	}
	if config.HostBridge.Timeout == 0 {
		config.HostBridge.Timeout = 15 * time.Second
	}
	if config.Prometheus.MetricsPath == "" {
		config.Prometheus.MetricsPath = "/metrics"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}

	e := &config.Engine
	if e.MaxDeletesPerMinute == 0 {
		e.MaxDeletesPerMinute = 60
	}
	if e.DedupWindow == 0 {
		e.DedupWindow = 10 * time.Second
	}
	if e.DedupCapacity == 0 {
		e.DedupCapacity = 512
	}
	if e.BufferCapacity == 0 {
		e.BufferCapacity = 5000
	}
	if e.BufferMaxAttempts == 0 {
		e.BufferMaxAttempts = 5
	}
	if e.BufferRetrySpacing == 0 {
		e.BufferRetrySpacing = 15 * time.Minute
	}
	if e.BufferMaxAge == 0 {
		e.BufferMaxAge = 7 * 24 * time.Hour
	}
	if e.FlushInterval == 0 {
		e.FlushInterval = 5 * time.Minute
	}
	if e.AlarmFloor == 0 {
		e.AlarmFloor = 5 * time.Minute
	}
	if e.CacheClearInterval == 0 {
		e.CacheClearInterval = 15 * time.Minute
	}
	if e.ActionLogCapacity == 0 {
		e.ActionLogCapacity = 200
	}
	if e.HistorySearchMax == 0 {
		e.HistorySearchMax = 1000
	}
}

func validate(config *Config) error {
	if config.HostBridge.URL == "" {
		return fmt.Errorf("host_bridge.url is required")
	}
	if config.Engine.MaxDeletesPerMinute < 1 {
		return fmt.Errorf("engine.max_deletes_per_minute must be at least 1")
	}
	if config.Engine.BufferCapacity < 1 {
		return fmt.Errorf("engine.buffer_capacity must be at least 1")
	}
	if config.Engine.BufferMaxAttempts < 1 {
		return fmt.Errorf("engine.buffer_max_attempts must be at least 1")
	}
	return nil
}
