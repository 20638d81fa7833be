package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
	apperrors "github.com/kukipiyo/PiyoXAssistant/internal/errors"
	"github.com/kukipiyo/PiyoXAssistant/internal/models"
)

// LoadConfig reads the JSON config file, fills defaults and applies
// environment overrides. Credentials never live in this file; they come
// from the encrypted store or environment.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMissingConfig, "failed to read config file")
	}

	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "failed to parse config file")
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.Publisher.APIBaseURL == "" {
		cfg.Publisher.APIBaseURL = "https://api.twitter.com"
	}
	if cfg.Publisher.Timeout <= 0 {
		cfg.Publisher.Timeout = constants.DefaultHTTPTimeoutSec * time.Second
	}
	if cfg.Publisher.RetryCount <= 0 {
		cfg.Publisher.RetryCount = constants.DefaultDatabaseRetryAttempts
	}
	if cfg.Weather.APIBaseURL == "" {
		cfg.Weather.APIBaseURL = "https://api.openweathermap.org"
	}
	if cfg.Weather.City == "" {
		cfg.Weather.City = "Tokyo"
	}
	if cfg.Finance.APIBaseURL == "" {
		cfg.Finance.APIBaseURL = "https://api.twelvedata.com"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "piyoassistant.db"
	}
	if cfg.Scheduler.TickIntervalSec <= 0 {
		cfg.Scheduler.TickIntervalSec = constants.DefaultTickIntervalSec
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = constants.DefaultTimezone
	}
	if cfg.Scheduler.RecomputeDelaySec <= 0 {
		cfg.Scheduler.RecomputeDelaySec = constants.DefaultRecomputeDelaySec
	}
	if cfg.Scheduler.DailyCeiling <= 0 {
		cfg.Scheduler.DailyCeiling = constants.DefaultDailyDispatchCeiling
	}
	if cfg.Scheduler.WeeklyCeiling <= 0 {
		cfg.Scheduler.WeeklyCeiling = constants.DefaultWeeklyDispatchCeiling
	}
	if cfg.Scheduler.MinGapMinutes <= 0 {
		cfg.Scheduler.MinGapMinutes = constants.DefaultMinDispatchGapMinutes
	}
	if cfg.Retry.InitialBackoffMs <= 0 {
		cfg.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if cfg.Retry.MaxBackoffMs <= 0 {
		cfg.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "piyoassistant"
	}
	if cfg.Tracing.SampleRate <= 0 {
		cfg.Tracing.SampleRate = 0.1
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvOverrides(cfg *models.Config) {
	if v := os.Getenv("PIYO_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PIYO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PIYO_TIMEZONE"); v != "" {
		cfg.Scheduler.Timezone = v
	}
	if v := os.Getenv("PIYO_PUBLISHER_URL"); v != "" {
		cfg.Publisher.APIBaseURL = v
	}
	if v := os.Getenv("PIYO_TRACING_ENABLED"); v == "true" {
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("PIYO_AUTO_DISPATCH"); v == "true" {
		cfg.Scheduler.AutoDispatch = true
	}
}

func validate(cfg *models.Config) error {
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown timezone %q", cfg.Scheduler.Timezone))
	}
	if cfg.Scheduler.TickIntervalSec < 1 {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "tick interval must be at least one second")
	}
	return nil
}
