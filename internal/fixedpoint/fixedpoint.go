/*

Deterministic fixed-point arithmetic over cosmossdk.io/math integers.

All products and quotients are computed through big.Int so the intermediate
result is never width-limited; only the final result is checked against the
256-bit Int bound. Truncation is always round-toward-zero. Nothing here wraps
silently: a result that does not fit returns ErrOverflow.

Two scales are distinguished and must never be mixed directly:

  - ShareScale (1e9): internal share and USD-value precision.
  - OracleScale (1e18): raw oracle price precision.

Crossing between them goes through pricing normalization, never through
ad-hoc multiplication at a call site.

*/

package fixedpoint

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/halcyonlabs/cvm/internal/verrors"
)

// CanonicalDecimals is the decimal precision every USD value is expressed in
// internally, regardless of any asset's native decimal count.
const CanonicalDecimals = 9

// BpsDenominator converts basis points to a fraction.
const BpsDenominator = 10_000

var (
	// ShareScale is the internal share/value scale (10^CanonicalDecimals).
	ShareScale = sdkmath.NewIntWithDecimal(1, CanonicalDecimals)

	// OracleScale is the raw oracle price scale.
	OracleScale = sdkmath.NewIntWithDecimal(1, 18)
)

// Pow10 returns 10^n as an Int. n must be non-negative and small enough to
// fit the Int width; callers pass decimal counts (0..18) in practice.
func Pow10(n int) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, n)
}

// MulScaled computes a*b/scale with truncation toward zero.
func MulScaled(a, b, scale sdkmath.Int) (sdkmath.Int, error) {
	if err := checkOperands(scale, a, b); err != nil {
		return sdkmath.Int{}, err
	}
	prod := new(big.Int).Mul(a.BigInt(), b.BigInt())
	prod.Quo(prod, scale.BigInt())
	return fit(prod)
}

// DivScaled computes a*scale/b with truncation toward zero.
func DivScaled(a, b, scale sdkmath.Int) (sdkmath.Int, error) {
	if err := checkOperands(scale, a, b); err != nil {
		return sdkmath.Int{}, err
	}
	if b.IsZero() {
		return sdkmath.Int{}, errorsmod.Wrap(verrors.ErrTruncation, "division by zero")
	}
	quot := new(big.Int).Mul(a.BigInt(), scale.BigInt())
	quot.Quo(quot, b.BigInt())
	return fit(quot)
}

// MulBps computes a*bps/10000 with truncation toward zero. Used for fee and
// tolerance fractions expressed in basis points.
func MulBps(a sdkmath.Int, bps uint32) (sdkmath.Int, error) {
	return MulScaled(a, sdkmath.NewInt(int64(bps)), sdkmath.NewInt(BpsDenominator))
}

func checkOperands(scale sdkmath.Int, operands ...sdkmath.Int) error {
	if scale.IsNil() || !scale.IsPositive() {
		return errorsmod.Wrap(verrors.ErrTruncation, "scale must be positive")
	}
	for _, op := range operands {
		if op.IsNil() {
			return errorsmod.Wrap(verrors.ErrTruncation, "nil operand")
		}
		if op.IsNegative() {
			return errorsmod.Wrap(verrors.ErrTruncation, "negative operand")
		}
	}
	return nil
}

func fit(v *big.Int) (sdkmath.Int, error) {
	if v.BitLen() > sdkmath.MaxBitLen {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrOverflow, "result exceeds %d bits", sdkmath.MaxBitLen)
	}
	return sdkmath.NewIntFromBigInt(v), nil
}
