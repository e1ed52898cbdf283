package hs

import (
	"encoding/json"
	"fmt"
)

const configKey = "healthsync/config"

// Configuration holds the user-tunable sync settings. It is persisted as a
// JSON blob in the key-value store, independently of the run status.
type Configuration struct {
	Enabled             bool `json:"enabled"`
	IntervalMinutes     int  `json:"intervalMinutes"`
	SyncOnForeground    bool `json:"syncOnForeground"`
	SyncOnBackground    bool `json:"syncOnBackground"`
	MaxSyncsPerDay      int  `json:"maxSyncsPerDay"`
	BatteryOptimization bool `json:"batteryOptimization"`
	QuietHoursStart     int  `json:"quietHoursStart"`
	QuietHoursEnd       int  `json:"quietHoursEnd"`
}

// DefaultConfiguration returns the settings used on first run.
func DefaultConfiguration() Configuration {
	return Configuration{
		Enabled:             true,
		IntervalMinutes:     60,
		SyncOnForeground:    true,
		SyncOnBackground:    false,
		MaxSyncsPerDay:      24,
		BatteryOptimization: true,
		QuietHoursStart:     22,
		QuietHoursEnd:       6,
	}
}

// Validate checks that the configuration satisfies its invariants.
func (c Configuration) Validate() error {
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("intervalMinutes must be positive, got %d", c.IntervalMinutes)
	}
	if c.MaxSyncsPerDay <= 0 {
		return fmt.Errorf("maxSyncsPerDay must be positive, got %d", c.MaxSyncsPerDay)
	}
	if c.QuietHoursStart < 0 || c.QuietHoursStart > 23 {
		return fmt.Errorf("quietHoursStart must be in [0,23], got %d", c.QuietHoursStart)
	}
	if c.QuietHoursEnd < 0 || c.QuietHoursEnd > 23 {
		return fmt.Errorf("quietHoursEnd must be in [0,23], got %d", c.QuietHoursEnd)
	}
	return nil
}

// LoadConfiguration reads the persisted configuration, falling back to
// defaults when nothing has been stored yet.
func LoadConfiguration(kv KeyValue) (Configuration, error) {
	raw, ok, err := kv.Get(configKey)
	if err != nil {
		return Configuration{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if !ok {
		return DefaultConfiguration(), nil
	}

	var cfg Configuration
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Configuration{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, fmt.Errorf("stored configuration is invalid: %w", err)
	}
	return cfg, nil
}

// SaveConfiguration validates and persists the configuration.
func SaveConfiguration(kv KeyValue, cfg Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := kv.Set(configKey, string(data)); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}
