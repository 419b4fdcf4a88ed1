// Package config loads and validates the engine configuration.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configSubdir   = "config"
	configFileName = "campaign_engine.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Set defaults for the admin server
	if cfg.AdminServerPort == 0 {
		cfg.AdminServerPort = 8080
	}

	// Set defaults for governance thresholds
	if cfg.Governance.MaxChangesPerHour == 0 {
		cfg.Governance.MaxChangesPerHour = 3
	}
	if cfg.Governance.CooldownMinutes == 0 {
		cfg.Governance.CooldownMinutes = 10
	}
	if cfg.Governance.MultiSigThresholdBps == 0 {
		cfg.Governance.MultiSigThresholdBps = 100
	}
	if cfg.Governance.RequiredApprovals == 0 {
		cfg.Governance.RequiredApprovals = 2
	}
	if cfg.Governance.FeeDelayHours == 0 {
		cfg.Governance.FeeDelayHours = 24
	}
	if cfg.Governance.TreasuryDelayHours == 0 {
		cfg.Governance.TreasuryDelayHours = 48
	}
	if cfg.Governance.ChangeTTLHours == 0 {
		cfg.Governance.ChangeTTLHours = 168
	}

	// Set defaults for background jobs
	if cfg.RecoveryIntervalSeconds == 0 {
		cfg.RecoveryIntervalSeconds = 300
	}
	if cfg.ExpirySweepIntervalSeconds == 0 {
		cfg.ExpirySweepIntervalSeconds = 600
	}

	if cfg.ChainConfigs == nil {
		cfg.ChainConfigs = make(map[string]ChainSpecificConfig)
	}

	return cfg.ValidateContracts()
}

// Save writes the given config to <basePath>/config/campaign_engine.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads, validates and returns the config from
// <basePath>/config/campaign_engine.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}
