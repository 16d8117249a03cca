package fixedpoint

import (
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/cvm/internal/verrors"
)

func TestMulScaled(t *testing.T) {
	// 6.0 * 2.5 = 15.0 at ShareScale
	a := sdkmath.NewInt(6_000_000_000)
	b := sdkmath.NewInt(2_500_000_000)
	got, err := MulScaled(a, b, ShareScale)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(15_000_000_000), got)
}

func TestMulScaledTruncatesTowardZero(t *testing.T) {
	got, err := MulScaled(sdkmath.NewInt(1), sdkmath.NewInt(1), sdkmath.NewInt(2))
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestDivScaled(t *testing.T) {
	// 1/3 at ShareScale floors to 0.333333333
	got, err := DivScaled(sdkmath.NewInt(1), sdkmath.NewInt(3), ShareScale)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(333_333_333), got)
}

func TestDivScaledByZero(t *testing.T) {
	_, err := DivScaled(sdkmath.NewInt(1), sdkmath.ZeroInt(), ShareScale)
	require.ErrorIs(t, err, verrors.ErrTruncation)
}

func TestNegativeOperandRejected(t *testing.T) {
	_, err := MulScaled(sdkmath.NewInt(-1), sdkmath.NewInt(1), ShareScale)
	require.ErrorIs(t, err, verrors.ErrTruncation)

	_, err = DivScaled(sdkmath.NewInt(1), sdkmath.NewInt(-1), ShareScale)
	require.ErrorIs(t, err, verrors.ErrTruncation)
}

func TestNilOperandRejected(t *testing.T) {
	_, err := MulScaled(sdkmath.Int{}, sdkmath.NewInt(1), ShareScale)
	require.ErrorIs(t, err, verrors.ErrTruncation)
}

func TestOverflowDetected(t *testing.T) {
	big250 := sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 250))
	_, err := MulScaled(big250, big250, sdkmath.OneInt())
	require.ErrorIs(t, err, verrors.ErrOverflow)
}

func TestLargeIntermediateDoesNotOverflow(t *testing.T) {
	// a*b exceeds 256 bits but the scaled result fits
	big250 := sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 250))
	got, err := MulScaled(big250, big250, big250)
	require.NoError(t, err)
	require.Equal(t, big250, got)
}

func TestMulBps(t *testing.T) {
	fee, err := MulBps(sdkmath.NewInt(10_000), 250)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(250), fee)

	zero, err := MulBps(sdkmath.NewInt(10_000), 0)
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	full, err := MulBps(sdkmath.NewInt(10_000), BpsDenominator)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), full)
}

func TestPow10(t *testing.T) {
	require.Equal(t, sdkmath.OneInt(), Pow10(0))
	require.Equal(t, sdkmath.NewInt(1_000), Pow10(3))
	require.Equal(t, ShareScale, Pow10(CanonicalDecimals))
}
