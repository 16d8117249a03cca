package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/halcyonlabs/cvm/internal/metrics"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// FinishUpdate writes a USD valuation for an asset type. The write path has
// set semantics, not insert-only semantics: a second call for the same asset
// within one operation overwrites and succeeds, so an unrelated caller
// racing the legitimate updater cannot make the legitimate call fail.
//
// When a value-update phase is live and the asset belongs to the borrowed
// set, the asset is (idempotently) marked updated.
func (v *Vault) FinishUpdate(asset types.AssetTypeID, usdValue sdkmath.Int, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.finishUpdateLocked(asset, usdValue, now)
}

func (v *Vault) finishUpdateLocked(asset types.AssetTypeID, usdValue sdkmath.Int, now time.Time) error {
	if _, ok := v.assetTypes[asset]; !ok {
		return errorsmod.Wrapf(verrors.ErrNotFound, "asset type %s not registered", asset)
	}
	if usdValue.IsNil() || usdValue.IsNegative() {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "valuation for %s must be non-negative", asset)
	}

	v.assetsValue[asset] = usdValue
	v.assetsValueUpdatedAt[asset] = now
	if v.valueUpdateEnabled {
		if _, borrowed := v.borrowedUpdated[asset]; borrowed {
			v.borrowedUpdated[asset] = true
		}
	}

	metrics.IncValuationUpdate(string(asset))
	v.log.Debug().
		Str("asset", string(asset)).
		Str("usd_value", usdValue.String()).
		Time("at", now).
		Msg("Valuation updated")
	return nil
}

// UpdatePositionValue revalues one asset type: the principal directly from
// the price cache, external positions through their registered adaptor and
// the supplied market handle. Callable by anyone — the write is idempotent —
// but blocked between operation start and the return of borrowed assets.
func (v *Vault) UpdatePositionValue(asset types.AssetTypeID, market types.MarketState, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == StatusDuringOperation && !v.valueUpdateEnabled {
		return errorsmod.Wrap(verrors.ErrInvalidState, "borrowed assets not yet returned")
	}
	if _, ok := v.assetTypes[asset]; !ok {
		return errorsmod.Wrapf(verrors.ErrNotFound, "asset type %s not registered", asset)
	}

	if asset == types.PrincipalAssetType {
		price, err := v.prices.Normalized(types.PrincipalAssetType, now)
		if err != nil {
			return err
		}
		value, err := price.ValueOf(v.freePrincipal)
		if err != nil {
			return err
		}
		return v.finishUpdateLocked(asset, value, now)
	}

	pos, held := v.custody[asset]
	if !held {
		return errorsmod.Wrapf(verrors.ErrNotFound, "asset %s is not in custody", asset)
	}
	adp, err := v.adaptors.Lookup(asset)
	if err != nil {
		return err
	}
	value, err := adp.ValueOf(pos, market, v.prices, now)
	if err != nil {
		return err
	}
	return v.finishUpdateLocked(asset, value, now)
}

// TotalVaultValue sums the valuation ledger after asserting every entry is
// fresh within MaxUpdateInterval. A zero interval means entries must carry
// the same timestamp as the read.
func (v *Vault) TotalVaultValue(now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalVaultValueLocked(now)
}

func (v *Vault) totalVaultValueLocked(now time.Time) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for asset := range v.assetTypes {
		value, ok := v.assetsValue[asset]
		if !ok {
			return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrStaleValuation, "asset %s has no valuation entry", asset)
		}
		updatedAt, ok := v.assetsValueUpdatedAt[asset]
		if !ok {
			return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrStaleValuation, "asset %s has no valuation timestamp", asset)
		}
		if age := now.Sub(updatedAt); age > v.params.MaxUpdateInterval {
			return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrStaleValuation, "asset %s valuation is %s old (max %s)", asset, age, v.params.MaxUpdateInterval)
		}
		total = total.Add(value)
	}
	return total, nil
}
