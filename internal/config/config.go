package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/markpe/packfetch/internal/progress"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the packfetch CLI.
type Config struct {
	APIURL         string         `yaml:"api_url"`
	Token          string         `yaml:"token"`
	Output         string         `yaml:"output"`
	FallbackOutput string         `yaml:"fallback_output"`
	BufferSize     int64          `yaml:"buffer_size"`
	Progress       bool           `yaml:"progress"`
	Verbose        bool           `yaml:"verbose"`
	Timeouts       TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig groups the durations that drive a retrieval's lifecycle.
type TimeoutsConfig struct {
	// Request bounds the whole HTTP exchange. Zero means no limit.
	Request          time.Duration `yaml:"request"`
	StatusEscalation time.Duration `yaml:"status_escalation"`
	CompletedLinger  time.Duration `yaml:"completed_linger"`
	ErrorLinger      time.Duration `yaml:"error_linger"`
	NotificationTTL  time.Duration `yaml:"notification_ttl"`
	ReleaseDelay     time.Duration `yaml:"release_delay"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		APIURL:     "http://localhost:8000",
		Output:     "file://./downloads",
		BufferSize: 32 * 1024, // 32KiB
		Timeouts: TimeoutsConfig{
			StatusEscalation: 3 * time.Second,
			CompletedLinger:  10 * time.Second,
			ErrorLinger:      5 * time.Second,
			NotificationTTL:  5 * time.Second,
			ReleaseDelay:     time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	APIURL         string             `yaml:"api_url"`
	Token          string             `yaml:"token"`
	Output         string             `yaml:"output"`
	FallbackOutput string             `yaml:"fallback_output"`
	BufferSize     string             `yaml:"buffer_size"`
	Progress       bool               `yaml:"progress"`
	Verbose        bool               `yaml:"verbose"`
	Timeouts       yamlTimeoutsConfig `yaml:"timeouts"`
}

type yamlTimeoutsConfig struct {
	Request          string `yaml:"request"`
	StatusEscalation string `yaml:"status_escalation"`
	CompletedLinger  string `yaml:"completed_linger"`
	ErrorLinger      string `yaml:"error_linger"`
	NotificationTTL  string `yaml:"notification_ttl"`
	ReleaseDelay     string `yaml:"release_delay"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.APIURL != "" {
		cfg.APIURL = yc.APIURL
	}
	if yc.Token != "" {
		cfg.Token = yc.Token
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.FallbackOutput != "" {
		cfg.FallbackOutput = yc.FallbackOutput
	}
	if yc.BufferSize != "" {
		size, err := progress.ParseBytes(yc.BufferSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse buffer_size: %w", err)
		}
		cfg.BufferSize = size
	}
	cfg.Progress = yc.Progress
	cfg.Verbose = yc.Verbose

	durations := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"timeouts.request", yc.Timeouts.Request, &cfg.Timeouts.Request},
		{"timeouts.status_escalation", yc.Timeouts.StatusEscalation, &cfg.Timeouts.StatusEscalation},
		{"timeouts.completed_linger", yc.Timeouts.CompletedLinger, &cfg.Timeouts.CompletedLinger},
		{"timeouts.error_linger", yc.Timeouts.ErrorLinger, &cfg.Timeouts.ErrorLinger},
		{"timeouts.notification_ttl", yc.Timeouts.NotificationTTL, &cfg.Timeouts.NotificationTTL},
		{"timeouts.release_delay", yc.Timeouts.ReleaseDelay, &cfg.Timeouts.ReleaseDelay},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dest = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the PACKFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("PACKFETCH_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("PACKFETCH_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("PACKFETCH_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("PACKFETCH_FALLBACK_OUTPUT"); v != "" {
		c.FallbackOutput = v
	}
	if v := os.Getenv("PACKFETCH_BUFFER_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse PACKFETCH_BUFFER_SIZE: %w", err)
		}
		c.BufferSize = size
	}
	if v := os.Getenv("PACKFETCH_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("PACKFETCH_VERBOSE"); v != "" {
		c.Verbose = v == "true" || v == "1"
	}
	if v := os.Getenv("PACKFETCH_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PACKFETCH_REQUEST_TIMEOUT: %w", err)
		}
		c.Timeouts.Request = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("config: api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: api_url must be an http(s) URL: %q", c.APIURL)
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if !strings.Contains(c.Output, "://") {
		return fmt.Errorf("config: output must be a bucket URL: %q", c.Output)
	}
	if c.FallbackOutput != "" && !strings.Contains(c.FallbackOutput, "://") {
		return fmt.Errorf("config: fallback_output must be a bucket URL: %q", c.FallbackOutput)
	}
	if c.BufferSize <= 0 {
		return errors.New("config: buffer_size must be positive")
	}
	if c.Timeouts.Request < 0 {
		return errors.New("config: timeouts.request must not be negative")
	}
	if c.Timeouts.StatusEscalation <= 0 || c.Timeouts.CompletedLinger <= 0 ||
		c.Timeouts.ErrorLinger <= 0 || c.Timeouts.NotificationTTL <= 0 {
		return errors.New("config: lifecycle timeouts must be positive")
	}
	if c.Timeouts.ReleaseDelay < 0 {
		return errors.New("config: timeouts.release_delay must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.APIURL != "" {
		c.APIURL = override.APIURL
	}
	if override.Token != "" {
		c.Token = override.Token
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.FallbackOutput != "" {
		c.FallbackOutput = override.FallbackOutput
	}
	if override.BufferSize != 0 {
		c.BufferSize = override.BufferSize
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Verbose {
		c.Verbose = override.Verbose
	}
	if override.Timeouts.Request != 0 {
		c.Timeouts.Request = override.Timeouts.Request
	}
	if override.Timeouts.StatusEscalation != 0 {
		c.Timeouts.StatusEscalation = override.Timeouts.StatusEscalation
	}
	if override.Timeouts.CompletedLinger != 0 {
		c.Timeouts.CompletedLinger = override.Timeouts.CompletedLinger
	}
	if override.Timeouts.ErrorLinger != 0 {
		c.Timeouts.ErrorLinger = override.Timeouts.ErrorLinger
	}
	if override.Timeouts.NotificationTTL != 0 {
		c.Timeouts.NotificationTTL = override.Timeouts.NotificationTTL
	}
	if override.Timeouts.ReleaseDelay != 0 {
		c.Timeouts.ReleaseDelay = override.Timeouts.ReleaseDelay
	}
	return c
}
