// Package config loads service settings from the environment with defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/safetrail-data/sentinel.report/internal/severity"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultEventStorePath   = "sentinel_data.db"
	DefaultModelPath        = "models/isolation_forest_v1.json"
	DefaultAnalysisInterval = 30
	DefaultMinEventsWindow  = 3
	DefaultWindowMinutes    = 2
	DefaultRuleWeight       = 0.6
	DefaultMLWeight         = 0.4
	DefaultAlertThreshold   = "MEDIUM"
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8000
	DefaultLogLevel         = "info"
	DefaultAnalysisWorkers  = 8
)

// Config holds the service settings. All fields are overridable via
// environment variables named after the JSON tags, uppercased.
type Config struct {
	EventStorePath          string         `json:"event_store_path"`
	AnalysisIntervalSeconds int            `json:"analysis_interval_seconds"`
	MinEventsPerWindow      int            `json:"min_events_per_window"`
	FeatureWindowMinutes    int            `json:"feature_window_minutes"`
	ModelPath               string         `json:"model_path"`
	RuleWeight              float64        `json:"rule_weight"`
	MLWeight                float64        `json:"ml_weight"`
	AlertSeverityThreshold  severity.Level `json:"alert_severity_threshold"`
	Host                    string         `json:"host"`
	Port                    int            `json:"port"`
	LogLevel                string         `json:"log_level"`
	AnalysisWorkers         int            `json:"analysis_workers"`
}

// FromEnv builds a Config from the environment, applying defaults for unset
// variables and validating the result.
func FromEnv() (*Config, error) {
	cfg := &Config{
		EventStorePath:          envString("EVENT_STORE_PATH", DefaultEventStorePath),
		ModelPath:               envString("MODEL_PATH", DefaultModelPath),
		Host:                    envString("HOST", DefaultHost),
		LogLevel:                envString("LOG_LEVEL", DefaultLogLevel),
		AlertSeverityThreshold:  severity.Level(envString("ALERT_SEVERITY_THRESHOLD", DefaultAlertThreshold)),
	}

	var err error
	if cfg.AnalysisIntervalSeconds, err = envInt("ANALYSIS_INTERVAL_SECONDS", DefaultAnalysisInterval); err != nil {
		return nil, err
	}
	if cfg.MinEventsPerWindow, err = envInt("MIN_EVENTS_PER_WINDOW", DefaultMinEventsWindow); err != nil {
		return nil, err
	}
	if cfg.FeatureWindowMinutes, err = envInt("FEATURE_WINDOW_MINUTES", DefaultWindowMinutes); err != nil {
		return nil, err
	}
	if cfg.Port, err = envInt("PORT", DefaultPort); err != nil {
		return nil, err
	}
	if cfg.AnalysisWorkers, err = envInt("ANALYSIS_WORKERS", DefaultAnalysisWorkers); err != nil {
		return nil, err
	}
	if cfg.RuleWeight, err = envFloat("RULE_WEIGHT", DefaultRuleWeight); err != nil {
		return nil, err
	}
	if cfg.MLWeight, err = envFloat("ML_WEIGHT", DefaultMLWeight); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.EventStorePath == "" {
		return fmt.Errorf("event_store_path must not be empty")
	}
	if c.AnalysisIntervalSeconds <= 0 {
		return fmt.Errorf("analysis_interval_seconds must be positive, got %d", c.AnalysisIntervalSeconds)
	}
	if c.MinEventsPerWindow < 1 {
		return fmt.Errorf("min_events_per_window must be at least 1, got %d", c.MinEventsPerWindow)
	}
	if c.FeatureWindowMinutes <= 0 {
		return fmt.Errorf("feature_window_minutes must be positive, got %d", c.FeatureWindowMinutes)
	}
	if c.RuleWeight < 0 || c.MLWeight < 0 {
		return fmt.Errorf("weights must be non-negative, got rule=%f ml=%f", c.RuleWeight, c.MLWeight)
	}
	if c.AnalysisWorkers < 1 {
		return fmt.Errorf("analysis_workers must be at least 1, got %d", c.AnalysisWorkers)
	}
	if _, err := severity.Parse(string(c.AlertSeverityThreshold)); err != nil {
		return fmt.Errorf("invalid alert_severity_threshold: %w", err)
	}
	return nil
}

// AnalysisInterval returns the analysis cadence as a duration.
func (c *Config) AnalysisInterval() time.Duration {
	return time.Duration(c.AnalysisIntervalSeconds) * time.Second
}

// FeatureWindow returns the feature window width as a duration.
func (c *Config) FeatureWindow() time.Duration {
	return time.Duration(c.FeatureWindowMinutes) * time.Minute
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return f, nil
}
