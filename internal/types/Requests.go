/*

Deposit and withdrawal request records. A request is created by a user
action, consumed exactly once by execution or cancellation, and never
mutated in place.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// DepositRequest queues principal to be converted into shares.
type DepositRequest struct {
	RequestID uint64    `json:"request_id"`
	ReceiptID uuid.UUID `json:"receipt_id"`
	Recipient string    `json:"recipient"`
	// Amount is the deposited principal in native base units.
	Amount sdkmath.Int `json:"amount"`
	// ExpectedSharesFloor is the slippage floor: execution fails if fewer
	// shares would be minted.
	ExpectedSharesFloor sdkmath.Int `json:"expected_shares_floor"`
	CreatedAt           time.Time   `json:"created_at"`
}

// WithdrawRequest queues shares to be redeemed for principal.
type WithdrawRequest struct {
	RequestID uint64    `json:"request_id"`
	ReceiptID uuid.UUID `json:"receipt_id"`
	Recipient string    `json:"recipient"`
	// Shares is the redeemed share amount at ShareScale precision.
	Shares sdkmath.Int `json:"shares"`
	// ExpectedAmountFloor is checked against the net payout after fee
	// deduction, not the gross amount.
	ExpectedAmountFloor sdkmath.Int `json:"expected_amount_floor"`
	CreatedAt           time.Time   `json:"created_at"`
}
