/*

Tunable vault parameters. These are loaded from the environment or the
risk_parameters table at startup and handed to the vault as one struct.

*/

package types

import "time"

// VaultParams collects the freshness windows, fee rates, and safety bounds
// the vault enforces.
type VaultParams struct {
	// MaxPriceStaleness is the maximum age of a cached oracle price.
	MaxPriceStaleness time.Duration `json:"max_price_staleness"`
	// MaxUpdateInterval is the maximum age of a valuation ledger entry when
	// total vault value is read. Zero means "must be updated in the same
	// logical step as the read".
	MaxUpdateInterval time.Duration `json:"max_update_interval"`
	// LossToleranceBps bounds cumulative epoch loss as a fraction of the
	// epoch baseline, in basis points.
	LossToleranceBps uint32 `json:"loss_tolerance_bps"`
	DepositFeeBps    uint32 `json:"deposit_fee_bps"`
	WithdrawFeeBps   uint32 `json:"withdraw_fee_bps"`
	// CancelLockPeriod is the minimum time a request must age before it can
	// be cancelled, preventing same-block request-then-cancel games.
	CancelLockPeriod time.Duration `json:"cancel_lock_period"`
}

// RiskParameters is the persisted, versioned form of the vault tunables,
// stored in the risk_parameters table.
type RiskParameters struct {
	LossToleranceBps      uint32 `json:"loss_tolerance_bps"`
	DepositFeeBps         uint32 `json:"deposit_fee_bps"`
	WithdrawFeeBps        uint32 `json:"withdraw_fee_bps"`
	MaxPriceStalenessSecs uint64 `json:"max_price_staleness_secs"`
	MaxUpdateIntervalSecs uint64 `json:"max_update_interval_secs"`
	CancelLockSecs        uint64 `json:"cancel_lock_secs"`
	MarketDeviationBps    uint32 `json:"market_deviation_bps"`
	EpochDurationSecs     uint64 `json:"epoch_duration_secs"`
}

// VaultParams converts the persisted form into the runtime form.
func (r RiskParameters) VaultParams() VaultParams {
	return VaultParams{
		MaxPriceStaleness: time.Duration(r.MaxPriceStalenessSecs) * time.Second,
		MaxUpdateInterval: time.Duration(r.MaxUpdateIntervalSecs) * time.Second,
		LossToleranceBps:  r.LossToleranceBps,
		DepositFeeBps:     r.DepositFeeBps,
		WithdrawFeeBps:    r.WithdrawFeeBps,
		CancelLockPeriod:  time.Duration(r.CancelLockSecs) * time.Second,
	}
}
