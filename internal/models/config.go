package models

import "time"

// Config holds the application configuration
type Config struct {
	Publisher PublisherConfig `json:"publisher"`
	Weather   WeatherConfig   `json:"weather"`
	Finance   FinanceConfig   `json:"finance"`
	Database  DatabaseConfig  `json:"database"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retry     RetryConfig     `json:"retry"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// PublisherConfig holds the publishing API related configuration
type PublisherConfig struct {
	APIBaseURL string        `json:"api_base_url"`
	Timeout    time.Duration `json:"timeout_ms"`
	RetryCount int           `json:"retry_count"`
}

// WeatherConfig holds the weather provider configuration
type WeatherConfig struct {
	APIBaseURL string `json:"api_base_url"`
	City       string `json:"city"`
}

// FinanceConfig holds the financial quote provider configuration
type FinanceConfig struct {
	APIBaseURL string `json:"api_base_url"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SchedulerConfig holds scheduler loop tuning. AutoDispatch must be
// switched on explicitly: a fresh install starts in assist mode and will
// not post anything on its own.
type SchedulerConfig struct {
	TickIntervalSec   int    `json:"tickIntervalSec"`
	Timezone          string `json:"timezone"`
	RecomputeDelaySec int    `json:"recomputeDelaySec"`
	DailyCeiling      int    `json:"dailyCeiling"`
	WeeklyCeiling     int    `json:"weeklyCeiling"`
	MinGapMinutes     int    `json:"minGapMinutes"`
	AutoDispatch      bool   `json:"autoDispatch"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
