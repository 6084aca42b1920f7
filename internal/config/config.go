// Package config loads service configuration from defaults, an optional YAML file
// named by MAPCAL_CONFIG, and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mapcal/mapcal/internal/database"
)

// EnvConfigPath names the YAML file overlaid on the defaults.
const EnvConfigPath = "MAPCAL_CONFIG"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config is the configuration shared by the API server, the worker and the CLI.
type Config struct {
	Env        string `yaml:"env"`
	Port       string `yaml:"port"`
	LogLevel   string `yaml:"log_level"`
	RequireTLS bool   `yaml:"require_tls"`

	Store     StoreConfig     `yaml:"store"`
	Database  database.Config `yaml:"database"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Routing   ProviderConfig  `yaml:"routing"`
	Geocoding ProviderConfig  `yaml:"geocoding"`
	Planner   PlannerConfig   `yaml:"planner"`
	Worker    WorkerConfig    `yaml:"worker"`
	Export    ExportConfig    `yaml:"export"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// StoreConfig selects the durable mirror of the calendar store.
type StoreConfig struct {
	// Backend is memory, file or postgres.
	Backend string `yaml:"backend"`
	// Dir holds one JSON file per calendar for the file backend.
	Dir string `yaml:"dir"`
}

// PubSubConfig names the change notification topic and the worker subscription.
// An empty ProjectID disables Pub/Sub.
type PubSubConfig struct {
	ProjectID    string `yaml:"project_id"`
	Topic        string `yaml:"topic"`
	Subscription string `yaml:"subscription"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ProviderConfig configures an HTTP data provider.
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PlannerConfig configures the planning model.
type PlannerConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	HistoryLimit int           `yaml:"history_limit"`
}

// WorkerConfig configures the route worker.
type WorkerConfig struct {
	// APIURL is the calendar API the worker saves through. Empty runs in-process.
	APIURL      string        `yaml:"api_url"`
	Schedule    string        `yaml:"schedule"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ExportConfig configures ICS export.
type ExportConfig struct {
	// Timezone interprets event times in exported feeds.
	Timezone string `yaml:"timezone"`
}

// RateLimitConfig caps requests per minute. Plan counts per calendar and client
// address, Standard per client address.
type RateLimitConfig struct {
	PlanPerMinute     int `yaml:"plan_per_minute"`
	StandardPerMinute int `yaml:"standard_per_minute"`
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		Env:      "development",
		Port:     "8080",
		LogLevel: "info",
		Store: StoreConfig{
			Backend: BackendFile,
			Dir:     "data/calendars",
		},
		Database: database.DefaultConfig(),
		PubSub: PubSubConfig{
			Topic:        "calendar-changes",
			Subscription: "calendar-changes-worker",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1,
		},
		Planner: PlannerConfig{
			Model:        "gpt-4o-mini",
			Timeout:      60 * time.Second,
			HistoryLimit: 12,
		},
		Worker: WorkerConfig{
			Schedule:    "@every 15m",
			Concurrency: 3,
			Timeout:     30 * time.Second,
		},
		Export:    ExportConfig{Timezone: "UTC"},
		RateLimit: RateLimitConfig{PlanPerMinute: 10, StandardPerMinute: 600},
	}
}

// Load builds the configuration, reading the YAML file named by MAPCAL_CONFIG when set.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep their value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields whose environment variable is set.
func (c *Config) ApplyEnv() error {
	e := &envReader{}

	e.str("APP_ENV", &c.Env)
	e.str("APP_PORT", &c.Port)
	e.str("MAPCAL_LOG_LEVEL", &c.LogLevel)
	e.boolean("REQUIRE_TLS", &c.RequireTLS)

	e.str("MAPCAL_STORE_BACKEND", &c.Store.Backend)
	e.str("MAPCAL_STORE_DIR", &c.Store.Dir)

	e.str("PUBSUB_PROJECT_ID", &c.PubSub.ProjectID)
	e.str("PUBSUB_TOPIC", &c.PubSub.Topic)
	e.str("PUBSUB_SUBSCRIPTION", &c.PubSub.Subscription)

	e.boolean("OTEL_ENABLED", &c.Telemetry.Enabled)
	e.str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	e.boolean("OTEL_EXPORTER_OTLP_INSECURE", &c.Telemetry.Insecure)
	e.float("OTEL_TRACES_SAMPLER_ARG", &c.Telemetry.SampleRatio)

	// Routing and geocoding share one OpenRouteService key unless overridden.
	e.str("ORS_API_KEY", &c.Routing.APIKey)
	e.str("ORS_API_KEY", &c.Geocoding.APIKey)
	e.str("ORS_BASE_URL", &c.Routing.BaseURL)
	e.str("ORS_BASE_URL", &c.Geocoding.BaseURL)
	e.duration("ORS_TIMEOUT", &c.Routing.Timeout)
	e.duration("ORS_TIMEOUT", &c.Geocoding.Timeout)

	e.str("OPENAI_API_KEY", &c.Planner.APIKey)
	e.str("OPENAI_BASE_URL", &c.Planner.BaseURL)
	e.str("OPENAI_MODEL", &c.Planner.Model)
	e.duration("OPENAI_TIMEOUT", &c.Planner.Timeout)
	e.integer("MAPCAL_PLAN_HISTORY_LIMIT", &c.Planner.HistoryLimit)

	e.str("MAPCAL_API_URL", &c.Worker.APIURL)
	e.str("MAPCAL_SWEEP_SCHEDULE", &c.Worker.Schedule)
	e.integer("MAPCAL_ROUTE_CONCURRENCY", &c.Worker.Concurrency)
	e.duration("MAPCAL_ROUTE_TIMEOUT", &c.Worker.Timeout)

	e.str("MAPCAL_EXPORT_TIMEZONE", &c.Export.Timezone)

	e.integer("MAPCAL_PLAN_RATE_LIMIT", &c.RateLimit.PlanPerMinute)
	e.integer("MAPCAL_RATE_LIMIT", &c.RateLimit.StandardPerMinute)

	if err := c.Database.ApplyEnv(); err != nil {
		e.errs = append(e.errs, err)
	}
	return errors.Join(e.errs...)
}

// Normalize fills zero values with defaults so partial YAML files behave.
func (c *Config) Normalize() {
	d := Default()

	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = d.Env
	}
	if c.Port == "" {
		c.Port = d.Port
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Store.Dir == "" {
		c.Store.Dir = d.Store.Dir
	}
	if c.PubSub.Topic == "" {
		c.PubSub.Topic = d.PubSub.Topic
	}
	if c.PubSub.Subscription == "" {
		c.PubSub.Subscription = d.PubSub.Subscription
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = d.Telemetry.Endpoint
	}
	if c.Planner.Model == "" {
		c.Planner.Model = d.Planner.Model
	}
	if c.Planner.Timeout <= 0 {
		c.Planner.Timeout = d.Planner.Timeout
	}
	if c.Planner.HistoryLimit <= 0 {
		c.Planner.HistoryLimit = d.Planner.HistoryLimit
	}
	if c.Worker.Schedule == "" {
		c.Worker.Schedule = d.Worker.Schedule
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = d.Worker.Concurrency
	}
	if c.Worker.Timeout <= 0 {
		c.Worker.Timeout = d.Worker.Timeout
	}
	if c.Export.Timezone == "" {
		c.Export.Timezone = d.Export.Timezone
	}
	if c.RateLimit.PlanPerMinute <= 0 {
		c.RateLimit.PlanPerMinute = d.RateLimit.PlanPerMinute
	}
	if c.RateLimit.StandardPerMinute <= 0 {
		c.RateLimit.StandardPerMinute = d.RateLimit.StandardPerMinute
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		errs = append(errs, fmt.Errorf("port %q is not a valid TCP port", c.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level %q: %w", c.LogLevel, err))
	}

	switch c.Store.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("store backend %q must be memory, file or postgres", c.Store.Backend))
	}
	if c.Store.Backend == BackendMemory && c.IsProduction() {
		errs = append(errs, errors.New("memory store backend is not allowed in production"))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("trace sample ratio %v must be between 0 and 1", c.Telemetry.SampleRatio))
	}
	if _, err := time.LoadLocation(c.Export.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("export timezone %q: %w", c.Export.Timezone, err))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PubSubEnabled reports whether change notifications are published and consumed.
func (c *Config) PubSubEnabled() bool {
	return c.PubSub.ProjectID != ""
}

// Level returns the zerolog level. Call after Validate.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// ExportLocation returns the export timezone. Call after Validate.
func (c *Config) ExportLocation() *time.Location {
	loc, err := time.LoadLocation(c.Export.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// envReader collects parse errors while overlaying environment variables.
type envReader struct {
	errs []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	e.parse(key, func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*dst = b
		}
		return err
	})
}

func (e *envReader) integer(key string, dst *int) {
	e.parse(key, func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			*dst = n
		}
		return err
	})
}

func (e *envReader) float(key string, dst *float64) {
	e.parse(key, func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			*dst = f
		}
		return err
	})
}

func (e *envReader) duration(key string, dst *time.Duration) {
	e.parse(key, func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	})
}

func (e *envReader) parse(key string, apply func(string) error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if err := apply(v); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
	}
}
