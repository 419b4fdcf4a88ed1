package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config is the full engine configuration, loaded from
// <home>/config/campaign_engine.json.
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Engine home directory (default: ~/.campaign-engine)
	EngineHome string `json:"engine_home"`

	// Admin Server Config
	AdminServerPort int `json:"admin_server_port"` // Port for the admin HTTP server (default: 8080)

	// AuthTokens maps bearer tokens to actor identities for the admin API.
	AuthTokens map[string]string `json:"auth_tokens"`

	// Contract registry: every (chain, contract, version) pair the engine scans.
	Contracts []ContractEntry `json:"contracts"`

	// Per-chain settings keyed by CAIP-2 chain id (e.g., "eip155:1").
	ChainConfigs map[string]ChainSpecificConfig `json:"chain_configs"`

	// Governance thresholds
	Governance GovernanceConfig `json:"governance"`

	// Background job intervals
	RecoveryIntervalSeconds    int `json:"recovery_interval_seconds"`     // pending-distribution recovery pass (default: 300)
	ExpirySweepIntervalSeconds int `json:"expiry_sweep_interval_seconds"` // settings-change expiry sweep (default: 600)
}

// ContractEntry identifies one deployed campaign contract to scan.
type ContractEntry struct {
	ChainID         string `json:"chain_id" validate:"required"`                  // CAIP-2 chain id
	ContractAddress string `json:"contract_address" validate:"required,eth_addr"` // 0x-prefixed hex
	Version         string `json:"version" validate:"required,oneof=V5 V6 V7 V8"` // "V5".."V8"
}

// ChainSpecificConfig holds all chain-specific configuration in one place
type ChainSpecificConfig struct {
	// RPC endpoints for this chain; the pool fails over between them.
	RPCURLs []string `json:"rpc_urls,omitempty"`

	// Bound on concurrent in-flight reads against this chain's providers.
	MaxConcurrentReads *int `json:"max_concurrent_reads,omitempty"`

	// Requests per second allowed against this chain's providers.
	RPCRateLimitPerSecond *int `json:"rpc_rate_limit_per_second,omitempty"`

	// How long to wait for a transaction receipt before giving up the wait
	// (the transaction itself is NOT considered failed on timeout).
	ConfirmationTimeoutSeconds *int `json:"confirmation_timeout_seconds,omitempty"`

	// Hex-encoded secp256k1 key of the relayer account that submits
	// withdrawals and settings changes on this chain.
	RelayerKeyHex string `json:"relayer_key_hex,omitempty"`
}

// GovernanceConfig holds settings-governance thresholds. Zero values are
// replaced with defaults at load time.
type GovernanceConfig struct {
	MaxChangesPerHour    int `json:"max_changes_per_hour"`    // per-requester rate limit (default: 3)
	CooldownMinutes      int `json:"cooldown_minutes"`        // per-requester cooldown between requests (default: 10)
	MultiSigThresholdBps int `json:"multisig_threshold_bps"`  // fee/royalty delta at/above which multi-sig is required (default: 100)
	RequiredApprovals    int `json:"required_approvals"`      // approvals needed when multi-sig is required (default: 2)
	FeeDelayHours        int `json:"fee_delay_hours"`         // timelock for fee/royalty changes (default: 24)
	TreasuryDelayHours   int `json:"treasury_delay_hours"`    // timelock for treasury changes (default: 48)
	ChangeTTLHours       int `json:"change_ttl_hours"`        // lifetime of a pending change before expiry (default: 168)
}

// GetChainConfig returns the complete configuration for a specific chain
func (c *Config) GetChainConfig(chainID string) *ChainSpecificConfig {
	if c.ChainConfigs != nil {
		if config, ok := c.ChainConfigs[chainID]; ok {
			return &config
		}
	}
	// Return empty config if not found
	return &ChainSpecificConfig{}
}

// MaxConcurrentReads returns the per-chain read bound, defaulting to 4.
func (c *ChainSpecificConfig) GetMaxConcurrentReads() int64 {
	if c.MaxConcurrentReads == nil || *c.MaxConcurrentReads <= 0 {
		return 4
	}
	return int64(*c.MaxConcurrentReads)
}

// GetRateLimitPerSecond returns the per-chain RPC pacing, defaulting to 10.
func (c *ChainSpecificConfig) GetRateLimitPerSecond() int {
	if c.RPCRateLimitPerSecond == nil || *c.RPCRateLimitPerSecond <= 0 {
		return 10
	}
	return *c.RPCRateLimitPerSecond
}

// GetConfirmationTimeoutSeconds returns the receipt-wait timeout, defaulting to 120.
func (c *ChainSpecificConfig) GetConfirmationTimeoutSeconds() int {
	if c.ConfirmationTimeoutSeconds == nil || *c.ConfirmationTimeoutSeconds <= 0 {
		return 120
	}
	return *c.ConfirmationTimeoutSeconds
}

var validate = validator.New()

// ValidateContracts checks every registry entry's shape and that it names a
// configured chain.
func (c *Config) ValidateContracts() error {
	for _, entry := range c.Contracts {
		if err := validate.Struct(entry); err != nil {
			return fmt.Errorf("invalid contract entry %+v: %w", entry, err)
		}
		if _, ok := c.ChainConfigs[entry.ChainID]; !ok {
			return fmt.Errorf("contract %s references unconfigured chain %s", entry.ContractAddress, entry.ChainID)
		}
	}
	return nil
}
