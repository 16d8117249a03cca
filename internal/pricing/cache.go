/*

Per-asset price cache with staleness enforcement and decimal normalization.

The cache stores raw oracle prices exactly as pushed by the feed: USD per
whole token, scaled by fixedpoint.OracleScale, together with the asset's
native decimal count. Valuation code must never touch a raw price; it asks
for the normalized form, which is rescaled so that

	usd = MulScaled(amount_in_native_base_units, normalized, OracleScale)

yields a USD value at canonical precision for every asset, regardless of its
native decimal count. RawPrice and NormalizedPrice are distinct types so a
valuation call site that skips normalization does not compile.

*/

package pricing

import (
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/halcyonlabs/cvm/internal/fixedpoint"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// RawPrice is an oracle price exactly as pushed by the feed: USD per whole
// token at OracleScale, plus the asset's native decimal count. Not usable
// for valuation directly.
type RawPrice struct {
	Value     sdkmath.Int
	Decimals  int
	UpdatedAt time.Time
}

// NormalizedPrice is a price rescaled to canonical precision: USD per native
// base unit, scaled by OracleScale, such that ValueOf returns canonical USD.
type NormalizedPrice struct {
	Value     sdkmath.Int
	UpdatedAt time.Time
}

// ValueOf converts an amount in the asset's native base units into a USD
// value at canonical precision.
func (p NormalizedPrice) ValueOf(amount sdkmath.Int) (sdkmath.Int, error) {
	return fixedpoint.MulScaled(amount, p.Value, fixedpoint.OracleScale)
}

// Source supplies normalized prices. The cache implements it; tests may
// substitute fixed sources.
type Source interface {
	Normalized(asset types.AssetTypeID, now time.Time) (NormalizedPrice, error)
}

// Cache holds the latest pushed price per asset type.
type Cache struct {
	mu           sync.RWMutex
	maxStaleness time.Duration
	entries      map[types.AssetTypeID]RawPrice
}

// NewCache creates a cache rejecting prices older than maxStaleness.
func NewCache(maxStaleness time.Duration) *Cache {
	return &Cache{
		maxStaleness: maxStaleness,
		entries:      make(map[types.AssetTypeID]RawPrice),
	}
}

// Update stores a pushed price for an asset type. Later pushes overwrite
// earlier ones unconditionally.
func (c *Cache) Update(asset types.AssetTypeID, value sdkmath.Int, nativeDecimals int, now time.Time) error {
	if value.IsNil() || value.IsNegative() {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "price for %s must be non-negative", asset)
	}
	if nativeDecimals < 0 || nativeDecimals > 18 {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "native decimals %d out of range [0,18]", nativeDecimals)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[asset] = RawPrice{Value: value, Decimals: nativeDecimals, UpdatedAt: now}
	return nil
}

// Raw returns the stored price, failing with ErrStalePrice when its age
// reaches the staleness window.
func (c *Cache) Raw(asset types.AssetTypeID, now time.Time) (RawPrice, error) {
	c.mu.RLock()
	entry, ok := c.entries[asset]
	c.mu.RUnlock()
	if !ok {
		return RawPrice{}, errorsmod.Wrapf(verrors.ErrNotFound, "no price for asset %s", asset)
	}
	age := now.Sub(entry.UpdatedAt)
	if age < 0 {
		age = -age
	}
	if age >= c.maxStaleness {
		return RawPrice{}, errorsmod.Wrapf(verrors.ErrStalePrice, "price for %s is %s old (max %s)", asset, age, c.maxStaleness)
	}
	return entry, nil
}

// Normalized returns the price rescaled to canonical precision.
func (c *Cache) Normalized(asset types.AssetTypeID, now time.Time) (NormalizedPrice, error) {
	raw, err := c.Raw(asset, now)
	if err != nil {
		return NormalizedPrice{}, err
	}
	value, err := NormalizeRaw(raw.Value, raw.Decimals)
	if err != nil {
		return NormalizedPrice{}, err
	}
	return NormalizedPrice{Value: value, UpdatedAt: raw.UpdatedAt}, nil
}

// NormalizeRaw rescales a raw whole-token price by 10^(canonical-native),
// multiplying when the asset has fewer native decimals than canonical and
// truncating toward zero when it has more. Exported for adaptors that must
// sanity-check a market-internal quote against the oracle.
func NormalizeRaw(raw sdkmath.Int, nativeDecimals int) (sdkmath.Int, error) {
	if nativeDecimals < 0 || nativeDecimals > 18 {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidRequest, "native decimals %d out of range [0,18]", nativeDecimals)
	}
	if nativeDecimals <= fixedpoint.CanonicalDecimals {
		return fixedpoint.MulScaled(raw, fixedpoint.Pow10(fixedpoint.CanonicalDecimals-nativeDecimals), sdkmath.OneInt())
	}
	return fixedpoint.DivScaled(raw, fixedpoint.Pow10(nativeDecimals-fixedpoint.CanonicalDecimals), sdkmath.OneInt())
}
