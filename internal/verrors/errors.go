/*

Typed error taxonomy for the vault engine. Every failure surfaced by the core
carries one of these registered errors so API handlers and operators can map
failures to a stable code without string matching.

*/

package verrors

import (
	errorsmod "cosmossdk.io/errors"
)

const codespace = "cvm"

var (
	// ErrInvalidState indicates the vault is in the wrong status for the
	// requested action (e.g. starting an operation while one is running).
	ErrInvalidState = errorsmod.Register(codespace, 2, "invalid vault state")

	// ErrUnauthorized indicates a missing, mismatched, or frozen credential.
	ErrUnauthorized = errorsmod.Register(codespace, 3, "unauthorized credential")

	// ErrStalePrice indicates a cached oracle price exceeded its staleness window.
	ErrStalePrice = errorsmod.Register(codespace, 4, "stale price")

	// ErrStaleValuation indicates a ledger entry exceeded the max update interval.
	ErrStaleValuation = errorsmod.Register(codespace, 5, "stale valuation")

	// ErrInvalidMarketPrice indicates an external market's internal quote is
	// stale, deviates beyond the allowed bound from the oracle, or the market
	// handle does not correspond to the position being valued.
	ErrInvalidMarketPrice = errorsmod.Register(codespace, 6, "invalid market price")

	// ErrSlippageExceeded indicates a two-sided slippage bound was violated.
	ErrSlippageExceeded = errorsmod.Register(codespace, 7, "slippage exceeded")

	// ErrValueNotUpdated indicates an operation tried to close before every
	// borrowed asset type received a fresh valuation.
	ErrValueNotUpdated = errorsmod.Register(codespace, 8, "asset value not updated")

	// ErrLossLimitExceeded indicates the epoch loss budget is exhausted.
	ErrLossLimitExceeded = errorsmod.Register(codespace, 9, "loss limit exceeded")

	// ErrOverflow indicates a fixed-point result does not fit the output width.
	ErrOverflow = errorsmod.Register(codespace, 10, "arithmetic overflow")

	// ErrTruncation indicates invalid fixed-point operands (nil, negative,
	// zero divisor, or a bad scale).
	ErrTruncation = errorsmod.Register(codespace, 11, "invalid fixed-point operand")

	// ErrNotFound indicates an unknown asset type, request, or operation.
	ErrNotFound = errorsmod.Register(codespace, 12, "not found")

	// ErrInvalidRequest indicates malformed or inconsistent caller input.
	ErrInvalidRequest = errorsmod.Register(codespace, 13, "invalid request")
)
