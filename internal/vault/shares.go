/*

The share ledger: deposit/withdraw request queue, share-minting and
redemption fixed-point math, two-sided slippage bounds, and fee skimming.

The share ratio (USD value per share) is computed from total vault value
before the movement; minted/redeemed amounts are floored. A withdrawal's
slippage floor is checked against the net amount after fee deduction, so a
fee-rate change between request and execution cannot silently shortchange
the user past their stated floor.

*/

package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/halcyonlabs/cvm/internal/access"
	"github.com/halcyonlabs/cvm/internal/fixedpoint"
	"github.com/halcyonlabs/cvm/internal/metrics"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// RequestDeposit enqueues a deposit of principal. The vault must be Normal.
func (v *Vault) RequestDeposit(amount, expectedSharesFloor sdkmath.Int, recipient string, now time.Time) (*types.DepositRequest, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "deposit amount must be positive")
	}
	if expectedSharesFloor.IsNil() || expectedSharesFloor.IsNegative() {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "expected shares floor must be non-negative")
	}
	if recipient == "" {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "recipient is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusNormal {
		return nil, errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}

	v.nextRequestID++
	req := &types.DepositRequest{
		RequestID:           v.nextRequestID,
		ReceiptID:           uuid.New(),
		Recipient:           recipient,
		Amount:              amount,
		ExpectedSharesFloor: expectedSharesFloor,
		CreatedAt:           now,
	}
	v.pendingDeposits[req.RequestID] = req

	metrics.IncRequest("deposit", "queued")
	v.log.Info().
		Uint64("request_id", req.RequestID).
		Str("amount", amount.String()).
		Str("recipient", recipient).
		Msg("Deposit requested")
	v.record(types.OperationEvent{
		Kind:      "deposit_requested",
		Timestamp: now,
		Detail:    map[string]string{"request_id": req.ReceiptID.String(), "amount": amount.String()},
	})
	out := *req
	return &out, nil
}

// RequestWithdraw enqueues a redemption of shares. The vault must be Normal.
func (v *Vault) RequestWithdraw(shares, expectedAmountFloor sdkmath.Int, recipient string, now time.Time) (*types.WithdrawRequest, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "share amount must be positive")
	}
	if expectedAmountFloor.IsNil() || expectedAmountFloor.IsNegative() {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "expected amount floor must be non-negative")
	}
	if recipient == "" {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "recipient is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusNormal {
		return nil, errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}
	if shares.GT(v.totalShares) {
		return nil, errorsmod.Wrapf(verrors.ErrInvalidRequest, "shares %s exceed total supply %s", shares, v.totalShares)
	}

	v.nextRequestID++
	req := &types.WithdrawRequest{
		RequestID:           v.nextRequestID,
		ReceiptID:           uuid.New(),
		Recipient:           recipient,
		Shares:              shares,
		ExpectedAmountFloor: expectedAmountFloor,
		CreatedAt:           now,
	}
	v.pendingWithdrawals[req.RequestID] = req

	metrics.IncRequest("withdraw", "queued")
	v.log.Info().
		Uint64("request_id", req.RequestID).
		Str("shares", shares.String()).
		Str("recipient", recipient).
		Msg("Withdrawal requested")
	v.record(types.OperationEvent{
		Kind:      "withdraw_requested",
		Timestamp: now,
		Detail:    map[string]string{"request_id": req.ReceiptID.String(), "shares": shares.String()},
	})
	out := *req
	return &out, nil
}

// CancelDeposit removes a not-yet-executed deposit request. Gated by the
// minimum elapsed-time lock.
func (v *Vault) CancelDeposit(requestID uint64, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.pendingDeposits[requestID]
	if !ok {
		return errorsmod.Wrapf(verrors.ErrNotFound, "deposit request %d", requestID)
	}
	if elapsed := now.Sub(req.CreatedAt); elapsed < v.params.CancelLockPeriod {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "request is %s old, cancel lock is %s", elapsed, v.params.CancelLockPeriod)
	}

	delete(v.pendingDeposits, requestID)
	metrics.IncRequest("deposit", "cancelled")
	v.log.Info().Uint64("request_id", requestID).Msg("Deposit request cancelled")
	v.record(types.OperationEvent{Kind: "deposit_cancelled", Timestamp: now, Detail: map[string]string{"request_id": req.ReceiptID.String()}})
	return nil
}

// CancelWithdraw removes a not-yet-executed withdrawal request. Gated by the
// minimum elapsed-time lock.
func (v *Vault) CancelWithdraw(requestID uint64, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.pendingWithdrawals[requestID]
	if !ok {
		return errorsmod.Wrapf(verrors.ErrNotFound, "withdraw request %d", requestID)
	}
	if elapsed := now.Sub(req.CreatedAt); elapsed < v.params.CancelLockPeriod {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "request is %s old, cancel lock is %s", elapsed, v.params.CancelLockPeriod)
	}

	delete(v.pendingWithdrawals, requestID)
	metrics.IncRequest("withdraw", "cancelled")
	v.log.Info().Uint64("request_id", requestID).Msg("Withdrawal request cancelled")
	v.record(types.OperationEvent{Kind: "withdraw_cancelled", Timestamp: now, Detail: map[string]string{"request_id": req.ReceiptID.String()}})
	return nil
}

// ExecuteDeposit converts a queued deposit into shares at the pre-deposit
// share ratio, skimming the deposit fee first. Operator-gated. The request
// is consumed on success and only on success.
func (v *Vault) ExecuteDeposit(operator uuid.UUID, requestID uint64, maxSharesCeiling sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	if err := v.gate.Authorize(operator, access.RoleOperator); err != nil {
		return sdkmath.Int{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusNormal {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}
	req, ok := v.pendingDeposits[requestID]
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrNotFound, "deposit request %d", requestID)
	}

	price, err := v.prices.Normalized(types.PrincipalAssetType, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	ratio, err := v.shareRatioLocked(now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	fee, err := fixedpoint.MulBps(req.Amount, v.params.DepositFeeBps)
	if err != nil {
		return sdkmath.Int{}, err
	}
	net := req.Amount.Sub(fee)
	valueAdded, err := price.ValueOf(net)
	if err != nil {
		return sdkmath.Int{}, err
	}
	minted, err := fixedpoint.DivScaled(valueAdded, ratio, fixedpoint.ShareScale)
	if err != nil {
		return sdkmath.Int{}, err
	}

	if minted.LT(req.ExpectedSharesFloor) {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrSlippageExceeded, "minted %s below floor %s", minted, req.ExpectedSharesFloor)
	}
	if !maxSharesCeiling.IsNil() && minted.GT(maxSharesCeiling) {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrSlippageExceeded, "minted %s above ceiling %s", minted, maxSharesCeiling)
	}

	// all checks passed; commit
	v.freePrincipal = v.freePrincipal.Add(net)
	v.accruedFees = v.accruedFees.Add(fee)
	v.totalShares = v.totalShares.Add(minted)
	delete(v.pendingDeposits, requestID)

	newPrincipalValue, err := price.ValueOf(v.freePrincipal)
	if err == nil {
		err = v.finishUpdateLocked(types.PrincipalAssetType, newPrincipalValue, now)
	}
	if err != nil {
		// valuation of the post-deposit principal uses inputs already
		// validated above, so this path is unreachable; surface it loudly
		// rather than mask it
		v.log.Error().Err(err).Msg("post-deposit principal revaluation failed")
	}

	metrics.IncRequest("deposit", "executed")
	v.publishGauges()
	v.log.Info().
		Uint64("request_id", requestID).
		Str("net_amount", net.String()).
		Str("fee", fee.String()).
		Str("minted_shares", minted.String()).
		Str("recipient", req.Recipient).
		Msg("Deposit executed")
	v.record(types.OperationEvent{
		Kind:      "deposit_executed",
		Timestamp: now,
		Detail: map[string]string{
			"request_id": req.ReceiptID.String(),
			"net_amount": net.String(),
			"fee":        fee.String(),
			"minted":     minted.String(),
		},
	})
	return minted, nil
}

// ExecuteWithdraw redeems a queued withdrawal at the current share ratio,
// deducting the withdrawal fee and checking the user's floor against the net
// payout. Operator-gated.
func (v *Vault) ExecuteWithdraw(operator uuid.UUID, requestID uint64, maxAmountCeiling sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	if err := v.gate.Authorize(operator, access.RoleOperator); err != nil {
		return sdkmath.Int{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusNormal {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}
	req, ok := v.pendingWithdrawals[requestID]
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrNotFound, "withdraw request %d", requestID)
	}
	if req.Shares.GT(v.totalShares) {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidRequest, "shares %s exceed total supply %s", req.Shares, v.totalShares)
	}

	price, err := v.prices.Normalized(types.PrincipalAssetType, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if price.Value.IsZero() {
		return sdkmath.Int{}, errorsmod.Wrap(verrors.ErrInvalidRequest, "principal price is zero")
	}
	ratio, err := v.shareRatioLocked(now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	valueOwed, err := fixedpoint.MulScaled(req.Shares, ratio, fixedpoint.ShareScale)
	if err != nil {
		return sdkmath.Int{}, err
	}
	grossAmount, err := fixedpoint.DivScaled(valueOwed, price.Value, fixedpoint.OracleScale)
	if err != nil {
		return sdkmath.Int{}, err
	}
	fee, err := fixedpoint.MulBps(grossAmount, v.params.WithdrawFeeBps)
	if err != nil {
		return sdkmath.Int{}, err
	}
	netAmount := grossAmount.Sub(fee)

	// floor is checked against the net amount, after fees
	if netAmount.LT(req.ExpectedAmountFloor) {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrSlippageExceeded, "net payout %s below floor %s", netAmount, req.ExpectedAmountFloor)
	}
	if !maxAmountCeiling.IsNil() && netAmount.GT(maxAmountCeiling) {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrSlippageExceeded, "net payout %s above ceiling %s", netAmount, maxAmountCeiling)
	}
	if grossAmount.GT(v.freePrincipal) {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrInvalidRequest, "payout %s exceeds free principal %s", grossAmount, v.freePrincipal)
	}

	// all checks passed; commit
	v.freePrincipal = v.freePrincipal.Sub(grossAmount)
	v.accruedFees = v.accruedFees.Add(fee)
	v.totalShares = v.totalShares.Sub(req.Shares)
	delete(v.pendingWithdrawals, requestID)

	newPrincipalValue, err := price.ValueOf(v.freePrincipal)
	if err == nil {
		err = v.finishUpdateLocked(types.PrincipalAssetType, newPrincipalValue, now)
	}
	if err != nil {
		v.log.Error().Err(err).Msg("post-withdraw principal revaluation failed")
	}

	metrics.IncRequest("withdraw", "executed")
	v.publishGauges()
	v.log.Info().
		Uint64("request_id", requestID).
		Str("shares", req.Shares.String()).
		Str("net_amount", netAmount.String()).
		Str("fee", fee.String()).
		Str("recipient", req.Recipient).
		Msg("Withdrawal executed")
	v.record(types.OperationEvent{
		Kind:      "withdraw_executed",
		Timestamp: now,
		Detail: map[string]string{
			"request_id": req.ReceiptID.String(),
			"shares":     req.Shares.String(),
			"net_amount": netAmount.String(),
			"fee":        fee.String(),
		},
	})
	return netAmount, nil
}

// shareRatioLocked returns the USD value per share at ShareScale precision,
// defaulting to 1.0 when no shares are outstanding. Requires a fresh ledger.
func (v *Vault) shareRatioLocked(now time.Time) (sdkmath.Int, error) {
	total, err := v.totalVaultValueLocked(now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if v.totalShares.IsZero() {
		return fixedpoint.ShareScale, nil
	}
	return fixedpoint.DivScaled(total, v.totalShares, fixedpoint.ShareScale)
}
