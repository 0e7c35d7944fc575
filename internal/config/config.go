// Package config provides configuration management for xelminer.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the process configuration surface exposed to operators.
type Config struct {
	// Service identification
	ServiceName string
	Version     string

	// Chain endpoints
	NodeRPCURL       string
	WalletRPCURL     string
	WalletRPCUser    string
	WalletRPCPass    string
	EventStreamURL   string
	RPCTimeout       time.Duration

	// Contract parameters
	ContractAddress string
	ContractEventID uint64
	SubmitEntryID   uint64
	MaxGas          uint64

	// Miner identity
	MinerAddress string

	// Loop tuning
	ReportInterval   time.Duration
	RefreshInterval  time.Duration
	SyncRetryDelay   time.Duration
	ReconnectDelay   time.Duration

	// Metrics (optional, enabled when InfluxURL is set)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Journal (optional, enabled when RedisURL is set)
	RedisURL string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "xelminer"),
		Version:     getEnv("VERSION", "dev"),

		NodeRPCURL:     getEnv("NODE_RPC_URL", "https://testnet-node.xelis.io/json_rpc"),
		WalletRPCURL:   getEnv("WALLET_RPC_URL", "http://127.0.0.1:8081/json_rpc"),
		WalletRPCUser:  getEnv("WALLET_RPC_USER", ""),
		WalletRPCPass:  getEnv("WALLET_RPC_PASSWORD", ""),
		EventStreamURL: getEnv("WS_URL", "ws://127.0.0.1:8080/json_rpc"),
		RPCTimeout:     getEnvDuration("RPC_TIMEOUT", 15*time.Second),

		ContractAddress: getEnv("CONTRACT_ADDRESS", "a5f71cfb9897384da12b69c6abd4a90a3233f6512221028fd60e3e66fb6ae982"),
		ContractEventID: getEnvUint("CONTRACT_EVENT_ID", 1),
		SubmitEntryID:   getEnvUint("SUBMIT_ENTRY_ID", 5),
		MaxGas:          getEnvUint("MAX_GAS", 5_000_000),

		MinerAddress: getEnv("MINER_ADDRESS", ""),

		ReportInterval:  getEnvDuration("REPORT_INTERVAL", 10*time.Second),
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 10*time.Second),
		SyncRetryDelay:  getEnvDuration("SYNC_RETRY_DELAY", 5*time.Second),
		ReconnectDelay:  getEnvDuration("WS_RECONNECT_DELAY", 5*time.Second),

		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "xelminer"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),

		RedisURL: getEnv("REDIS_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate performs basic validation of configuration values.
// The miner address itself is decoded (and fatal-checked) at startup.
func (c *Config) validate() error {
	if c.MinerAddress == "" {
		return fmt.Errorf("MINER_ADDRESS is required")
	}

	if c.ContractAddress == "" {
		return fmt.Errorf("CONTRACT_ADDRESS cannot be empty")
	}

	if c.NodeRPCURL == "" || c.WalletRPCURL == "" || c.EventStreamURL == "" {
		return fmt.Errorf("NODE_RPC_URL, WALLET_RPC_URL, and WS_URL must all be set")
	}

	if c.MaxGas == 0 {
		return fmt.Errorf("MAX_GAS must be positive")
	}

	if c.ReportInterval <= 0 || c.RefreshInterval <= 0 {
		return fmt.Errorf("REPORT_INTERVAL and REFRESH_INTERVAL must be positive")
	}

	if c.SyncRetryDelay <= 0 || c.ReconnectDelay <= 0 {
		return fmt.Errorf("SYNC_RETRY_DELAY and WS_RECONNECT_DELAY must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
