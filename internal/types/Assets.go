/*

Core identifiers and position handles shared across the vault engine.

An asset type is a logical identifier for one category of value the vault
holds: the native principal, or one kind of external-protocol position.
Positions are opaque handles; only the adaptor registered for their asset
type knows how to value them.

*/

package types

import (
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
)

// AssetTypeID identifies one category of value held by the vault.
type AssetTypeID string

// PrincipalAssetType is the vault's native principal asset. It is always
// registered and is valued directly from the price cache, without an adaptor.
const PrincipalAssetType AssetTypeID = "principal"

// Position is an opaque handle to value held in an external protocol.
// The concrete type is only understood by the adaptor for its asset type.
type Position interface {
	AssetType() AssetTypeID
}

// MarketState is a caller-supplied handle to the *current* state of the
// external market/pool a position lives in. Adaptors must verify the handle
// actually corresponds to the position being valued (matching identifiers).
type MarketState interface {
	MarketKey() string
}

// LendingPosition is a deposit in an external lending market, held in
// protocol-internal deposit units plus any accrued-but-uncollected rewards.
type LendingPosition struct {
	Asset        AssetTypeID `json:"asset"`
	MarketID     string      `json:"market_id"`
	DepositUnits sdkmath.Int `json:"deposit_units"`  // protocol deposit units (cToken-style)
	AccruedUnits sdkmath.Int `json:"accrued_units"`  // uncollected rewards, underlying base units
}

func (p LendingPosition) AssetType() AssetTypeID { return p.Asset }

// LendingMarket is the live state of an external lending market.
type LendingMarket struct {
	ID string `json:"id"`
	// ExchangeRateScaled is underlying base units per deposit unit, scaled by
	// fixedpoint.OracleScale.
	ExchangeRateScaled sdkmath.Int `json:"exchange_rate_scaled"`
	// InternalQuote is the market's own USD quote for one whole underlying
	// token, scaled by fixedpoint.OracleScale, with the token's native
	// decimal count alongside. Used only for sanity-checking against the
	// oracle, never as a valuation source.
	InternalQuote      sdkmath.Int `json:"internal_quote"`
	UnderlyingDecimals int         `json:"underlying_decimals"`
	QuoteUpdatedAt     time.Time   `json:"quote_updated_at"`
}

func (m LendingMarket) MarketKey() string { return m.ID }

// LPPosition is a share of an external constant-product AMM pool.
type LPPosition struct {
	Asset    AssetTypeID `json:"asset"`
	PoolID   uint64      `json:"pool_id"`
	LPShares sdkmath.Int `json:"lp_shares"`
}

func (p LPPosition) AssetType() AssetTypeID { return p.Asset }

// AMMPool is the live state of an external AMM pool. Reserves and pending
// (uncollected) swap fees are in each token's native base units.
type AMMPool struct {
	ID            uint64      `json:"id"`
	TotalLPShares sdkmath.Int `json:"total_lp_shares"`
	ReserveA      sdkmath.Int `json:"reserve_a"`
	ReserveB      sdkmath.Int `json:"reserve_b"`
	PendingFeesA  sdkmath.Int `json:"pending_fees_a"`
	PendingFeesB  sdkmath.Int `json:"pending_fees_b"`
	// TokenAFeed/TokenBFeed name the oracle feeds pricing each leg.
	TokenAFeed AssetTypeID `json:"token_a_feed"`
	TokenBFeed AssetTypeID `json:"token_b_feed"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (p AMMPool) MarketKey() string { return strconv.FormatUint(p.ID, 10) }
