// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the support agent configuration with priority
// env > file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
//
// # Thread Safety
//
// Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Classifier  ClassifierConfig  `json:"classifier" yaml:"classifier"`
	Breaker     BreakerConfig     `json:"breaker" yaml:"breaker"`
	Degradation DegradationConfig `json:"degradation" yaml:"degradation"`
	Language    LanguageConfig    `json:"language" yaml:"language"`
	Guard       GuardConfig       `json:"guard" yaml:"guard"`
	Strikes     StrikesConfig     `json:"strikes" yaml:"strikes"`
	Flags       FlagsConfig       `json:"flags" yaml:"flags"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
	Otel        OtelConfig        `json:"otel" yaml:"otel"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// WebhookSecret authenticates the messaging gateway. Empty disables
	// the check (dev only).
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	LogDir string `json:"log_dir" yaml:"log_dir"`
	JSON   bool   `json:"json" yaml:"json"`
}

// ClassifierConfig contains external model settings.
type ClassifierConfig struct {
	Model   string        `json:"model" yaml:"model"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
}

// BreakerConfig contains circuit breaker settings shared by all
// targets.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" validate:"gt=0"`
	FailureWindow    time.Duration `json:"failure_window" yaml:"failure_window" validate:"gt=0"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown" validate:"gt=0"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold" validate:"gt=0"`
}

// DegradationConfig contains mode selection settings.
type DegradationConfig struct {
	ReducedTimeout   time.Duration `json:"reduced_timeout" yaml:"reduced_timeout" validate:"gt=0"`
	MaxInFlight      int64         `json:"max_in_flight" yaml:"max_in_flight" validate:"gt=0"`
	AdmitRate        float64       `json:"admit_rate" yaml:"admit_rate" validate:"gt=0"`
	AdmitBurst       int           `json:"admit_burst" yaml:"admit_burst" validate:"gt=0"`
	DeferredCapacity int           `json:"deferred_capacity" yaml:"deferred_capacity" validate:"gt=0"`
}

// LanguageConfig contains language lock settings.
type LanguageConfig struct {
	Default          string  `json:"default" yaml:"default" validate:"oneof=ar en"`
	Hysteresis       int     `json:"hysteresis" yaml:"hysteresis" validate:"gt=0"`
	SwitchConfidence float64 `json:"switch_confidence" yaml:"switch_confidence" validate:"gt=0,lte=1"`
}

// GuardConfig contains state machine settings.
type GuardConfig struct {
	AmbiguityLimit int           `json:"ambiguity_limit" yaml:"ambiguity_limit" validate:"gt=0"`
	PendingTTL     time.Duration `json:"pending_ttl" yaml:"pending_ttl" validate:"gt=0"`

	// ResequenceWait bounds how long an ahead-of-sequence message waits
	// for the missing one before being processed anyway.
	ResequenceWait time.Duration `json:"resequence_wait" yaml:"resequence_wait" validate:"gt=0"`
}

// StrikesConfig contains ledger and escalation settings.
type StrikesConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// InMemory switches the ledger to the non-durable store (dev only).
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	WindowDays   int `json:"window_days" yaml:"window_days" validate:"gt=0"`
	WatchedAt    int `json:"watched_at" yaml:"watched_at" validate:"gt=0"`
	RestrictedAt int `json:"restricted_at" yaml:"restricted_at" validate:"gt=0"`
	SuspendedAt  int `json:"suspended_at" yaml:"suspended_at" validate:"gt=0"`

	// BackofficeURL receives escalation webhooks. Empty disables them.
	BackofficeURL string `json:"backoffice_url" yaml:"backoffice_url"`
	QueueSize     int    `json:"queue_size" yaml:"queue_size" validate:"gt=0"`
}

// FlagsConfig contains feature flag settings.
type FlagsConfig struct {
	// Path is the flags YAML file watched for hot reload. Empty runs
	// with all flags off.
	Path string `json:"path" yaml:"path"`
}

// MaintenanceConfig contains background loop settings.
type MaintenanceConfig struct {
	ReconcileInterval time.Duration `json:"reconcile_interval" yaml:"reconcile_interval" validate:"gt=0"`
	SweepInterval     time.Duration `json:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`
	SessionMaxIdle    time.Duration `json:"session_max_idle" yaml:"session_max_idle" validate:"gt=0"`
}

// OtelConfig contains tracing settings.
type OtelConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8085",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			LogDir: "~/.dispatchguard/logs",
			JSON:   true,
		},
		Classifier: ClassifierConfig{
			Model:   "gpt-4o-mini",
			Timeout: 3 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    60 * time.Second,
			Cooldown:         30 * time.Second,
			SuccessThreshold: 2,
		},
		Degradation: DegradationConfig{
			ReducedTimeout:   2 * time.Second,
			MaxInFlight:      256,
			AdmitRate:        200,
			AdmitBurst:       400,
			DeferredCapacity: 10000,
		},
		Language: LanguageConfig{
			Default:          "ar",
			Hysteresis:       2,
			SwitchConfidence: 0.9,
		},
		Guard: GuardConfig{
			AmbiguityLimit: 3,
			PendingTTL:     5 * time.Minute,
			ResequenceWait: 2 * time.Second,
		},
		Strikes: StrikesConfig{
			DataDir:      "~/.dispatchguard/strikes",
			WindowDays:   90,
			WatchedAt:    3,
			RestrictedAt: 6,
			SuspendedAt:  10,
			QueueSize:    256,
		},
		Maintenance: MaintenanceConfig{
			ReconcileInterval: 15 * time.Second,
			SweepInterval:     5 * time.Minute,
			SessionMaxIdle:    time.Hour,
		},
		Otel: OtelConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}
}

// Load merges configuration with priority env > file > defaults.
//
// # Outputs
//
//   - Config: merged configuration.
//   - error: non-nil if the file exists but is invalid, or validation
//     fails.
func Load(configPath string) (Config, error) {
	config := Default()

	if configPath != "" {
		if err := loadFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Validate checks field constraints via struct tags.
func (c Config) Validate() error {
	return validator.New().Struct(c)
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // use defaults
		}
		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadEnv(config *Config) {
	if v := os.Getenv("DISPATCHGUARD_ADDR"); v != "" {
		config.Server.Addr = v
	}
	if v := os.Getenv("DISPATCHGUARD_WEBHOOK_SECRET"); v != "" {
		config.Server.WebhookSecret = v
	}
	if v := os.Getenv("DISPATCHGUARD_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("DISPATCHGUARD_LOG_DIR"); v != "" {
		config.Logging.LogDir = v
	}
	if v := os.Getenv("DISPATCHGUARD_CLASSIFIER_MODEL"); v != "" {
		config.Classifier.Model = v
	}
	if v := os.Getenv("DISPATCHGUARD_CLASSIFIER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Classifier.Timeout = d
		}
	}
	if v := os.Getenv("DISPATCHGUARD_DEFAULT_LANGUAGE"); v != "" {
		config.Language.Default = v
	}
	if v := os.Getenv("DISPATCHGUARD_AMBIGUITY_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Guard.AmbiguityLimit = i
		}
	}
	if v := os.Getenv("DISPATCHGUARD_PENDING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Guard.PendingTTL = d
		}
	}
	if v := os.Getenv("DISPATCHGUARD_STRIKES_DIR"); v != "" {
		config.Strikes.DataDir = v
	}
	if v := os.Getenv("DISPATCHGUARD_STRIKES_IN_MEMORY"); v != "" {
		config.Strikes.InMemory = v == "true" || v == "1"
	}
	if v := os.Getenv("DISPATCHGUARD_BACKOFFICE_URL"); v != "" {
		config.Strikes.BackofficeURL = v
	}
	if v := os.Getenv("DISPATCHGUARD_FLAGS_PATH"); v != "" {
		config.Flags.Path = v
	}
	if v := os.Getenv("DISPATCHGUARD_OTEL_ENABLED"); v != "" {
		config.Otel.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DISPATCHGUARD_OTEL_ENDPOINT"); v != "" {
		config.Otel.Endpoint = v
	}
}

// StrikesWindow returns the rolling window as a duration.
func (c StrikesConfig) StrikesWindow() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}
