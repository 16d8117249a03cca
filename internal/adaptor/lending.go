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

// LendingAdaptor values deposits in an external lending market: deposit
// units converted through the market's current exchange rate, plus any
// accrued-but-uncollected rewards, priced with the oracle feed for the
// underlying token.
type LendingAdaptor struct {
	asset           types.AssetTypeID
	feed            types.AssetTypeID
	maxDeviationBps uint32
	maxQuoteAge     time.Duration
}

// NewLendingAdaptor creates an adaptor for one lending-market asset type.
// feed names the oracle feed of the underlying token; maxDeviationBps bounds
// how far the market's internal quote may drift from the oracle.
func NewLendingAdaptor(asset, feed types.AssetTypeID, maxDeviationBps uint32, maxQuoteAge time.Duration) *LendingAdaptor {
	return &LendingAdaptor{asset: asset, feed: feed, maxDeviationBps: maxDeviationBps, maxQuoteAge: maxQuoteAge}
}

func (a *LendingAdaptor) AssetType() types.AssetTypeID { return a.asset }

// ValueOf derives the position's underlying amount from the market's current
// exchange rate and values it at the oracle price.
func (a *LendingAdaptor) ValueOf(pos types.Position, market types.MarketState, prices pricing.Source, now time.Time) (sdkmath.Int, error) {
	lp, ok := pos.(types.LendingPosition)
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidRequest, "position %T is not a lending position", pos)
	}
	mkt, ok := market.(types.LendingMarket)
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidRequest, "market %T is not a lending market", market)
	}
	if mkt.ID != lp.MarketID {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidMarketPrice, "market %s does not match position market %s", mkt.ID, lp.MarketID)
	}

	oracle, err := prices.Normalized(a.feed, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := checkMarketQuote(mkt.InternalQuote, mkt.UnderlyingDecimals, mkt.QuoteUpdatedAt, oracle, a.maxDeviationBps, a.maxQuoteAge, now); err != nil {
		return sdkmath.Int{}, err
	}

	underlying, err := fixedpoint.MulScaled(lp.DepositUnits, mkt.ExchangeRateScaled, fixedpoint.OracleScale)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !lp.AccruedUnits.IsNil() {
		underlying = underlying.Add(lp.AccruedUnits)
	}
	return oracle.ValueOf(underlying)
}

// checkMarketQuote validates a market-internal quote: it must be fresh and
// within maxDeviationBps of the oracle's normalized price.
func checkMarketQuote(quote sdkmath.Int, decimals int, quotedAt time.Time, oracle pricing.NormalizedPrice, maxDeviationBps uint32, maxAge time.Duration, now time.Time) error {
	age := now.Sub(quotedAt)
	if age < 0 {
		age = -age
	}
	if age >= maxAge {
		return errorsmod.Wrapf(verrors.ErrInvalidMarketPrice, "market quote is %s old (max %s)", age, maxAge)
	}
	normQuote, err := pricing.NormalizeRaw(quote, decimals)
	if err != nil {
		return err
	}
	if oracle.Value.IsZero() {
		return errorsmod.Wrap(verrors.ErrInvalidMarketPrice, "oracle price is zero")
	}
	diff := normQuote.Sub(oracle.Value)
	if diff.IsNegative() {
		diff = diff.Neg()
	}
	deviationBps, err := fixedpoint.DivScaled(diff, oracle.Value, sdkmath.NewInt(fixedpoint.BpsDenominator))
	if err != nil {
		return err
	}
	if deviationBps.GT(sdkmath.NewInt(int64(maxDeviationBps))) {
		return errorsmod.Wrapf(verrors.ErrInvalidMarketPrice, "market quote deviates %s bps from oracle (max %d)", deviationBps, maxDeviationBps)
	}
	return nil
}
