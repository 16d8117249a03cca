package adaptor

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/halcyonlabs/cvm/internal/fixedpoint"
	"github.com/halcyonlabs/cvm/internal/pricing"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// AMMLPAdaptor values a share of a 50/50 constant-product AMM pool: the
// pro-rata slice of both reserves plus the pro-rata slice of pending
// (uncollected) swap fees, each leg priced with its own oracle feed.
//
// The pool's internal price is sanity-checked without division: at oracle
// prices, a balanced 50/50 pool holds equal USD value on each leg, so the
// imbalance between the two legs bounds the pool's price deviation.
type AMMLPAdaptor struct {
	asset           types.AssetTypeID
	maxDeviationBps uint32
	maxPoolAge      time.Duration
}

// NewAMMLPAdaptor creates an adaptor for one AMM LP asset type.
func NewAMMLPAdaptor(asset types.AssetTypeID, maxDeviationBps uint32, maxPoolAge time.Duration) *AMMLPAdaptor {
	return &AMMLPAdaptor{asset: asset, maxDeviationBps: maxDeviationBps, maxPoolAge: maxPoolAge}
}

func (a *AMMLPAdaptor) AssetType() types.AssetTypeID { return a.asset }

// ValueOf derives the position value from the pool's current reserves.
func (a *AMMLPAdaptor) ValueOf(pos types.Position, market types.MarketState, prices pricing.Source, now time.Time) (sdkmath.Int, error) {
	lp, ok := pos.(types.LPPosition)
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidRequest, "position %T is not an LP position", pos)
	}
	pool, ok := market.(types.AMMPool)
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidRequest, "market %T is not an AMM pool", market)
	}
	if pool.ID != lp.PoolID {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidMarketPrice, "pool %d does not match position pool %d", pool.ID, lp.PoolID)
	}
	age := now.Sub(pool.UpdatedAt)
	if age < 0 {
		age = -age
	}
	if age >= a.maxPoolAge {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidMarketPrice, "pool state is %s old (max %s)", age, a.maxPoolAge)
	}
	if pool.TotalLPShares.IsNil() || !pool.TotalLPShares.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidMarketPrice, "pool %d has no outstanding LP shares", pool.ID)
	}

	priceA, err := prices.Normalized(pool.TokenAFeed, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	priceB, err := prices.Normalized(pool.TokenBFeed, now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	reserveValueA, err := priceA.ValueOf(pool.ReserveA)
	if err != nil {
		return sdkmath.Int{}, err
	}
	reserveValueB, err := priceB.ValueOf(pool.ReserveB)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := a.checkPoolBalance(reserveValueA, reserveValueB); err != nil {
		return sdkmath.Int{}, err
	}

	feeValueA, err := priceA.ValueOf(orZero(pool.PendingFeesA))
	if err != nil {
		return sdkmath.Int{}, err
	}
	feeValueB, err := priceB.ValueOf(orZero(pool.PendingFeesB))
	if err != nil {
		return sdkmath.Int{}, err
	}

	poolValue := reserveValueA.Add(reserveValueB).Add(feeValueA).Add(feeValueB)
	// position value = poolValue * lpShares / totalLPShares, floored
	return fixedpoint.MulScaled(poolValue, lp.LPShares, pool.TotalLPShares)
}

// checkPoolBalance rejects pools whose legs are imbalanced beyond the
// deviation bound at oracle prices.
func (a *AMMLPAdaptor) checkPoolBalance(valueA, valueB sdkmath.Int) error {
	total := valueA.Add(valueB)
	if total.IsZero() {
		return errorsmod.Wrap(verrors.ErrInvalidMarketPrice, "pool reserves have zero oracle value")
	}
	diff := valueA.Sub(valueB)
	if diff.IsNegative() {
		diff = diff.Neg()
	}
	imbalanceBps, err := fixedpoint.DivScaled(diff, total, sdkmath.NewInt(fixedpoint.BpsDenominator))
	if err != nil {
		return err
	}
	if imbalanceBps.GT(sdkmath.NewInt(int64(a.maxDeviationBps))) {
		return errorsmod.Wrapf(verrors.ErrInvalidMarketPrice, "pool legs imbalanced by %s bps at oracle prices (max %d)", imbalanceBps, a.maxDeviationBps)
	}
	return nil
}

func orZero(v sdkmath.Int) sdkmath.Int {
	if v.IsNil() {
		return sdkmath.ZeroInt()
	}
	return v
}
