package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonlabs/cvm/internal/types"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// MaxPriceStaleness is the maximum age of a cached oracle price.
	MaxPriceStaleness time.Duration
	// MaxUpdateInterval is the maximum age of a valuation ledger entry at read time.
	MaxUpdateInterval time.Duration
	// LossToleranceBps bounds cumulative epoch loss as a fraction of the epoch baseline.
	LossToleranceBps uint32
	// DepositFeeBps / WithdrawFeeBps are the fee rates skimmed on execution.
	DepositFeeBps  uint32
	WithdrawFeeBps uint32
	// CancelLockPeriod is the minimum request age before cancellation is allowed.
	CancelLockPeriod time.Duration
	// MarketDeviationBps bounds how far a market-internal quote may drift from the oracle.
	MarketDeviationBps uint32
	// EpochDuration is the accounting period after which the engine rolls the loss epoch.
	EpochDuration time.Duration
	// CycleInterval is the engine loop period.
	CycleInterval time.Duration
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	MaxPriceStaleness, err = getEnvAsSeconds("CVM_MAX_PRICE_STALENESS_SECS")
	if err != nil {
		return err
	}

	MaxUpdateInterval, err = getEnvAsSeconds("CVM_MAX_UPDATE_INTERVAL_SECS")
	if err != nil {
		return err
	}

	LossToleranceBps, err = getEnvAsBps("CVM_LOSS_TOLERANCE_BPS")
	if err != nil {
		return err
	}

	DepositFeeBps, err = getEnvAsBps("CVM_DEPOSIT_FEE_BPS")
	if err != nil {
		return err
	}

	WithdrawFeeBps, err = getEnvAsBps("CVM_WITHDRAW_FEE_BPS")
	if err != nil {
		return err
	}

	CancelLockPeriod, err = getEnvAsSeconds("CVM_CANCEL_LOCK_SECS")
	if err != nil {
		return err
	}

	MarketDeviationBps, err = getEnvAsBps("CVM_MARKET_DEVIATION_BPS")
	if err != nil {
		return err
	}

	EpochDuration, err = getEnvAsSeconds("CVM_EPOCH_DURATION_SECS")
	if err != nil {
		return err
	}

	CycleInterval, err = getEnvAsSeconds("CVM_CYCLE_INTERVAL_SECS")
	if err != nil {
		return err
	}

	log.Debug().
		Dur("MaxPriceStaleness", MaxPriceStaleness).
		Dur("MaxUpdateInterval", MaxUpdateInterval).
		Uint32("LossToleranceBps", LossToleranceBps).
		Msg("Configuration loaded successfully.")

	return nil
}

// RiskParameters assembles the persisted parameter form from the loaded config.
func RiskParameters() types.RiskParameters {
	return types.RiskParameters{
		LossToleranceBps:      LossToleranceBps,
		DepositFeeBps:         DepositFeeBps,
		WithdrawFeeBps:        WithdrawFeeBps,
		MaxPriceStalenessSecs: uint64(MaxPriceStaleness / time.Second),
		MaxUpdateIntervalSecs: uint64(MaxUpdateInterval / time.Second),
		CancelLockSecs:        uint64(CancelLockPeriod / time.Second),
		MarketDeviationBps:    MarketDeviationBps,
		EpochDurationSecs:     uint64(EpochDuration / time.Second),
	}
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsSeconds retrieves an environment variable as a whole-second duration.
func getEnvAsSeconds(key string) (time.Duration, error) {
	value, err := getEnvAsUint64(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(value) * time.Second, nil
}

// getEnvAsBps retrieves an environment variable as a basis-point value (0..10000).
func getEnvAsBps(key string) (uint32, error) {
	value, err := getEnvAsUint64(key)
	if err != nil {
		return 0, err
	}
	if value > 10_000 {
		return 0, errors.New("environment variable " + key + " must be at most 10000")
	}
	return uint32(value), nil
}
