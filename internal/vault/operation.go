/*

The operation lifecycle: Normal → DuringOperation → Normal.

An operation removes specific assets from custody for external use and must
bring them back through a mandatory revaluation before it may close. Failed
transitions mutate nothing. The only way in is StartOperation; the only ways
out are a successful FinishOperationValueCheck or the admin-gated
ForceCloseOperation escape hatch.

*/

package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/halcyonlabs/cvm/internal/access"
	"github.com/halcyonlabs/cvm/internal/metrics"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// OperationRecord is the ephemeral bookkeeping for one operation. It is
// created by StartOperation, consumed by FinishOperationValueCheck, and
// bound to one vault by identity — a record cannot complete an operation on
// any other vault, nor be replayed once consumed.
type OperationRecord struct {
	ID                uuid.UUID
	VaultID           uuid.UUID
	Borrowed          []types.AssetTypeID
	PrincipalBorrowed sdkmath.Int
	TotalUSDBefore    sdkmath.Int
	TotalSharesBefore sdkmath.Int
}

// BorrowedBundle carries the assets removed from custody. The operator hands
// it back to EndOperation; return completeness is verified against the
// record's borrowed set, never against a caller-supplied list.
type BorrowedBundle struct {
	OperationID uuid.UUID
	Principal   sdkmath.Int
	Positions   map[types.AssetTypeID]types.Position
}

// StartOperation moves the requested assets out of custody and transitions
// the vault to DuringOperation. Operator-gated; requires a fresh valuation
// ledger so the pre-operation total is trustworthy.
func (v *Vault) StartOperation(operator uuid.UUID, borrow []types.AssetTypeID, principalAmount sdkmath.Int, now time.Time) (*OperationRecord, *BorrowedBundle, error) {
	if err := v.gate.Authorize(operator, access.RoleOperator); err != nil {
		return nil, nil, err
	}
	if principalAmount.IsNil() || principalAmount.IsNegative() {
		return nil, nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "principal amount must be non-negative")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusNormal {
		return nil, nil, errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}
	if principalAmount.GT(v.freePrincipal) {
		return nil, nil, errorsmod.Wrapf(verrors.ErrInvalidRequest, "principal %s exceeds free principal %s", principalAmount, v.freePrincipal)
	}

	borrowed := make([]types.AssetTypeID, 0, len(borrow)+1)
	seen := make(map[types.AssetTypeID]struct{}, len(borrow))
	for _, asset := range borrow {
		if asset == types.PrincipalAssetType {
			return nil, nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "borrow principal via principal_amount, not the asset list")
		}
		if _, dup := seen[asset]; dup {
			return nil, nil, errorsmod.Wrapf(verrors.ErrInvalidRequest, "asset %s listed twice", asset)
		}
		seen[asset] = struct{}{}
		if _, held := v.custody[asset]; !held {
			return nil, nil, errorsmod.Wrapf(verrors.ErrNotFound, "asset %s is not in custody", asset)
		}
		borrowed = append(borrowed, asset)
	}
	if principalAmount.IsPositive() {
		borrowed = append(borrowed, types.PrincipalAssetType)
	}
	if len(borrowed) == 0 {
		return nil, nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "nothing to borrow")
	}

	before, err := v.totalVaultValueLocked(now)
	if err != nil {
		return nil, nil, err
	}

	// all checks passed; commit
	record := &OperationRecord{
		ID:                uuid.New(),
		VaultID:           v.id,
		Borrowed:          borrowed,
		PrincipalBorrowed: principalAmount,
		TotalUSDBefore:    before,
		TotalSharesBefore: v.totalShares,
	}
	bundle := &BorrowedBundle{
		OperationID: record.ID,
		Principal:   principalAmount,
		Positions:   make(map[types.AssetTypeID]types.Position, len(borrow)),
	}
	for _, asset := range borrow {
		bundle.Positions[asset] = v.custody[asset]
		delete(v.custody, asset)
	}
	v.freePrincipal = v.freePrincipal.Sub(principalAmount)
	v.status = StatusDuringOperation
	v.activeOpID = record.ID

	metrics.IncOperation("started")
	v.log.Info().
		Str("operation_id", record.ID.String()).
		Int("borrowed_assets", len(borrowed)).
		Str("principal", principalAmount.String()).
		Str("total_usd_before", before.String()).
		Msg("Operation started")
	v.record(types.OperationEvent{
		Kind:        "operation_started",
		OperationID: record.ID.String(),
		Timestamp:   now,
		Detail: map[string]string{
			"total_usd_before": before.String(),
			"principal":        principalAmount.String(),
		},
	})
	return record, bundle, nil
}

// EndOperation returns the borrowed bundle to custody and opens the
// value-update phase. Every asset type the record says was borrowed must be
// present in the bundle, verified by type.
func (v *Vault) EndOperation(operator uuid.UUID, bundle *BorrowedBundle, record *OperationRecord, now time.Time) error {
	if err := v.gate.Authorize(operator, access.RoleOperator); err != nil {
		return err
	}
	if bundle == nil || record == nil {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "bundle and record are required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusDuringOperation {
		return errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}
	if err := v.checkRecordLocked(record); err != nil {
		return err
	}
	if bundle.OperationID != record.ID {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "bundle does not belong to this operation")
	}
	if v.valueUpdateEnabled {
		return errorsmod.Wrap(verrors.ErrInvalidState, "operation already ended")
	}

	for _, asset := range record.Borrowed {
		if asset == types.PrincipalAssetType {
			if bundle.Principal.IsNil() || bundle.Principal.IsNegative() {
				return errorsmod.Wrap(verrors.ErrInvalidRequest, "returned principal must be non-negative")
			}
			continue
		}
		pos, present := bundle.Positions[asset]
		if !present {
			return errorsmod.Wrapf(verrors.ErrInvalidRequest, "borrowed asset %s missing from returned bundle", asset)
		}
		if pos.AssetType() != asset {
			return errorsmod.Wrapf(verrors.ErrInvalidRequest, "bundle position under key %s has type %s", asset, pos.AssetType())
		}
	}

	// all checks passed; commit
	for _, asset := range record.Borrowed {
		if asset == types.PrincipalAssetType {
			v.freePrincipal = v.freePrincipal.Add(bundle.Principal)
			continue
		}
		v.custody[asset] = bundle.Positions[asset]
		delete(bundle.Positions, asset)
	}
	v.valueUpdateEnabled = true
	v.borrowedUpdated = make(map[types.AssetTypeID]bool, len(record.Borrowed))
	for _, asset := range record.Borrowed {
		v.borrowedUpdated[asset] = false
	}

	// The returned figure is operator-supplied; journal it against the
	// borrowed amount so an overstatement is auditable, not invisible.
	borrowedPrincipal := record.PrincipalBorrowed
	if borrowedPrincipal.IsNil() {
		borrowedPrincipal = sdkmath.ZeroInt()
	}
	delta := bundle.Principal.Sub(borrowedPrincipal)
	if delta.IsPositive() {
		v.log.Warn().
			Str("operation_id", record.ID.String()).
			Str("principal_borrowed", borrowedPrincipal.String()).
			Str("returned_principal", bundle.Principal.String()).
			Msg("Returned principal exceeds the amount borrowed")
	}

	v.log.Info().
		Str("operation_id", record.ID.String()).
		Str("returned_principal", bundle.Principal.String()).
		Msg("Operation assets returned, value-update phase open")
	v.record(types.OperationEvent{
		Kind:        "operation_ended",
		OperationID: record.ID.String(),
		Timestamp:   now,
		Detail: map[string]string{
			"principal_borrowed": borrowedPrincipal.String(),
			"returned_principal": bundle.Principal.String(),
			"principal_delta":    delta.String(),
		},
	})
	return nil
}

// FinishOperationValueCheck closes the operation: every borrowed asset must
// have been revalued, the measured loss must fit the epoch budget, and the
// share supply must be untouched. On success the vault returns to Normal and
// the record is consumed.
func (v *Vault) FinishOperationValueCheck(operator uuid.UUID, record *OperationRecord, now time.Time) error {
	if err := v.gate.Authorize(operator, access.RoleOperator); err != nil {
		return err
	}
	if record == nil {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "record is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusDuringOperation {
		return errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}
	if err := v.checkRecordLocked(record); err != nil {
		return err
	}
	if !v.valueUpdateEnabled {
		return errorsmod.Wrap(verrors.ErrInvalidState, "borrowed assets not yet returned")
	}
	for asset, updated := range v.borrowedUpdated {
		if !updated {
			return errorsmod.Wrapf(verrors.ErrValueNotUpdated, "asset %s was borrowed but not revalued", asset)
		}
	}

	after, err := v.totalVaultValueLocked(now)
	if err != nil {
		return err
	}

	// Strict inequality: equality is treated as no loss, but never masks a
	// decrease, because any decrease makes after strictly smaller.
	loss := sdkmath.ZeroInt()
	if after.LT(record.TotalUSDBefore) {
		loss = record.TotalUSDBefore.Sub(after)
	}
	newEpochLoss, err := v.checkLossBudgetLocked(loss)
	if err != nil {
		metrics.IncOperation("rejected")
		return err
	}

	if !v.totalShares.Equal(record.TotalSharesBefore) {
		return errorsmod.Wrapf(verrors.ErrInvalidState, "share supply changed during operation: %s -> %s", record.TotalSharesBefore, v.totalShares)
	}

	// all checks passed; commit
	v.currentEpochLoss = newEpochLoss
	v.status = StatusNormal
	v.valueUpdateEnabled = false
	v.borrowedUpdated = nil
	v.activeOpID = uuid.Nil

	metrics.IncOperation("completed")
	v.publishGauges()
	v.log.Info().
		Str("operation_id", record.ID.String()).
		Str("total_usd_before", record.TotalUSDBefore.String()).
		Str("total_usd_after", after.String()).
		Str("loss", loss.String()).
		Str("epoch_loss", v.currentEpochLoss.String()).
		Msg("Operation closed")
	v.record(types.OperationEvent{
		Kind:        "operation_finished",
		OperationID: record.ID.String(),
		Timestamp:   now,
		Detail: map[string]string{
			"total_usd_before": record.TotalUSDBefore.String(),
			"total_usd_after":  after.String(),
			"loss":             loss.String(),
		},
	})
	return nil
}

// ForceCloseOperation is the administrative escape hatch: a distinct,
// admin-gated transition forcing DuringOperation back to Normal when the
// legitimate completion path is permanently blocked (e.g. the operator
// credential was frozen mid-operation). It bypasses the loss check and is
// journaled as an override.
//
// Borrowed positions that never came back are written off: their asset types
// are deregistered from the valuation ledger, so the vault's total value
// reflects the loss instead of failing StaleValuation forever on an entry
// nothing can refresh. Un-returned principal stays subtracted from
// freePrincipal; both write-offs surface in the next valuations.
func (v *Vault) ForceCloseOperation(admin uuid.UUID, reason string) error {
	if err := v.gate.Authorize(admin, access.RoleAdmin); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != StatusDuringOperation {
		return errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}

	// any registered external asset with no custody entry is still out with
	// the force-closed operation and will never be returned
	writtenOff := make([]types.AssetTypeID, 0)
	for asset := range v.assetTypes {
		if asset == types.PrincipalAssetType {
			continue
		}
		if _, held := v.custody[asset]; !held {
			writtenOff = append(writtenOff, asset)
		}
	}

	opID := v.activeOpID
	v.status = StatusNormal
	v.valueUpdateEnabled = false
	v.borrowedUpdated = nil
	v.activeOpID = uuid.Nil

	detail := map[string]string{"reason": reason}
	for _, asset := range writtenOff {
		detail["written_off_"+string(asset)] = v.assetsValue[asset].String()
		delete(v.assetTypes, asset)
		delete(v.assetsValue, asset)
		delete(v.assetsValueUpdatedAt, asset)
	}

	metrics.IncOperation("forced")
	v.log.Warn().
		Str("operation_id", opID.String()).
		Str("reason", reason).
		Int("written_off_assets", len(writtenOff)).
		Msg("Operation FORCE-CLOSED by admin override")
	v.record(types.OperationEvent{
		Kind:        "operation_force_closed",
		OperationID: opID.String(),
		Detail:      detail,
	})
	return nil
}

// checkRecordLocked verifies a caller-supplied record against live vault
// state by identity, so a racing caller cannot complete someone else's
// operation with fabricated bookkeeping.
func (v *Vault) checkRecordLocked(record *OperationRecord) error {
	if record.VaultID != v.id {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "operation record belongs to a different vault")
	}
	if v.activeOpID == uuid.Nil || record.ID != v.activeOpID {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "operation record does not match the active operation")
	}
	return nil
}
