package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/halcyonlabs/cvm/internal/access"
	"github.com/halcyonlabs/cvm/internal/fixedpoint"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// ResetEpoch zeroes the cumulative epoch loss and snapshots the current
// total vault value as the new baseline. The baseline is fixed at epoch
// start so the tolerance is a fraction of a stable reference, not a moving
// target an operator could walk down operation by operation. Admin-gated.
func (v *Vault) ResetEpoch(admin uuid.UUID, now time.Time) error {
	if err := v.gate.Authorize(admin, access.RoleAdmin); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// A reset mid-operation would zero the pending loss before
	// FinishOperationValueCheck could count it against the budget.
	if v.status == StatusDuringOperation {
		return errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}

	baseline, err := v.totalVaultValueLocked(now)
	if err != nil {
		return err
	}

	v.currentEpochLoss = sdkmath.ZeroInt()
	v.epochLossBaseline = baseline

	v.log.Info().
		Str("baseline", baseline.String()).
		Uint32("tolerance_bps", v.lossToleranceBps).
		Msg("Loss epoch reset")
	v.record(types.OperationEvent{
		Kind:      "epoch_reset",
		Timestamp: now,
		Detail:    map[string]string{"baseline": baseline.String()},
	})
	return nil
}

// SetLossTolerance updates the epoch loss budget fraction. Admin-gated.
func (v *Vault) SetLossTolerance(admin uuid.UUID, bps uint32) error {
	if err := v.gate.Authorize(admin, access.RoleAdmin); err != nil {
		return err
	}
	if bps > fixedpoint.BpsDenominator {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "tolerance %d bps above 10000", bps)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.lossToleranceBps = bps
	v.log.Info().Uint32("tolerance_bps", bps).Msg("Loss tolerance updated")
	v.record(types.OperationEvent{Kind: "loss_tolerance_set", Detail: map[string]string{"bps": sdkmath.NewInt(int64(bps)).String()}})
	return nil
}

// EpochLoss returns the cumulative loss accrued this epoch.
func (v *Vault) EpochLoss() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentEpochLoss
}

// checkLossBudgetLocked computes what the epoch loss would be after adding
// loss and verifies it against baseline*tolerance/10000. It mutates nothing:
// the caller commits the returned value only after every other check passes.
func (v *Vault) checkLossBudgetLocked(loss sdkmath.Int) (sdkmath.Int, error) {
	newLoss := v.currentEpochLoss.Add(loss)
	limit, err := fixedpoint.MulBps(v.epochLossBaseline, v.lossToleranceBps)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if newLoss.GT(limit) {
		return sdkmath.Int{}, errorsmod.Wrapf(verrors.ErrLossLimitExceeded,
			"epoch loss %s would exceed limit %s (baseline %s, tolerance %d bps)",
			newLoss, limit, v.epochLossBaseline, v.lossToleranceBps)
	}
	return newLoss, nil
}
