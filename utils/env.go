package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/oraclesentinel/sentinel-go/types"
)

// Environment variables read by LoadEnvConfig.
const (
	EnvBaseURL         = "SENTINEL_BASE_URL"
	EnvRPCURL          = "SENTINEL_RPC_URL"
	EnvNetwork         = "SENTINEL_NETWORK"
	EnvWalletAddress   = "SENTINEL_WALLET_ADDRESS"
	EnvPrivateKey      = "SENTINEL_PRIVATE_KEY"
	EnvDisableAutoPay  = "SENTINEL_DISABLE_AUTO_PAY"
	EnvTimeout         = "SENTINEL_TIMEOUT"
	EnvConfirmTimeout  = "SENTINEL_CONFIRM_TIMEOUT"
	EnvCacheTTL        = "SENTINEL_CACHE_TTL"
	EnvRetryCount      = "SENTINEL_RETRY_COUNT"
	EnvGatingMint      = "SENTINEL_GATING_MINT"
	EnvSettlementMint  = "SENTINEL_SETTLEMENT_MINT"
	EnvHolderThreshold = "SENTINEL_HOLDER_THRESHOLD"
	EnvLogLevel        = "SENTINEL_LOG_LEVEL"
)

// LoadEnvConfig loads the given .env files (missing files are skipped), then
// builds a validated Config from SENTINEL_* variables. Variables already set in
// the process environment take precedence over the files.
func LoadEnvConfig(files ...string) (*types.Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &types.X402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("failed to load %s: %v", f, err),
			}
		}
	}

	d := types.DefaultConfig()
	cfg := types.Config{
		BaseURL:        getenv(EnvBaseURL, d.BaseURL),
		RPCURL:         getenv(EnvRPCURL, d.RPCURL),
		Network:        types.Network(getenv(EnvNetwork, d.Network.String())),
		WalletAddress:  os.Getenv(EnvWalletAddress),
		PrivateKey:     os.Getenv(EnvPrivateKey),
		GatingMint:     os.Getenv(EnvGatingMint),
		SettlementMint: getenv(EnvSettlementMint, d.SettlementMint),
		LogLevel:       getenv(EnvLogLevel, d.LogLevel),
		RetryCount:     d.RetryCount,
	}

	var err error
	if cfg.DisableAutoPay, err = envBool(EnvDisableAutoPay, false); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = envDuration(EnvTimeout, d.Timeout); err != nil {
		return nil, err
	}
	if cfg.ConfirmTimeout, err = envDuration(EnvConfirmTimeout, d.ConfirmTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration(EnvCacheTTL, d.CacheTTL); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvRetryCount); v != "" {
		if cfg.RetryCount, err = strconv.Atoi(v); err != nil {
			return nil, envError(EnvRetryCount, err)
		}
	}
	cfg.HolderThreshold = d.HolderThreshold
	if v := os.Getenv(EnvHolderThreshold); v != "" {
		if cfg.HolderThreshold, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, envError(EnvHolderThreshold, err)
		}
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, envError(key, err)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, envError(key, err)
	}
	return d, nil
}

func envError(key string, err error) error {
	return &types.X402Error{
		Code:    types.ErrConfigError,
		Message: fmt.Sprintf("invalid %s: %v", key, err),
	}
}
