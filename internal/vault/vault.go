/*

The vault aggregate: custody of the principal asset and a set of external
positions, a USD valuation ledger over them, fungible shares against the
total, an operation lifecycle that lets an operator temporarily remove assets
from custody, and a loss governor bounding what such excursions may cost.

Execution model: one mutex serializes all entry points, standing in for the
atomic-transaction model — every check runs before any mutation, so a failed
call leaves the vault unchanged. There is no blocking primitive; anything
that cannot complete synchronously fails immediately.

*/

package vault

import (
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyonlabs/cvm/internal/access"
	"github.com/halcyonlabs/cvm/internal/adaptor"
	"github.com/halcyonlabs/cvm/internal/fixedpoint"
	"github.com/halcyonlabs/cvm/internal/logger"
	"github.com/halcyonlabs/cvm/internal/metrics"
	"github.com/halcyonlabs/cvm/internal/pricing"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// Status is the vault's lifecycle state.
type Status string

const (
	StatusNormal          Status = "normal"
	StatusDuringOperation Status = "during_operation"
	StatusDisabled        Status = "disabled"
)

// Journal receives every lifecycle transition and request action for
// append-only persistence. A nil journal drops events.
type Journal interface {
	Record(event types.OperationEvent)
}

// Config wires the vault's collaborators.
type Config struct {
	Gate     *access.Gate
	Prices   pricing.Source
	Adaptors *adaptor.Registry
	Params   types.VaultParams
	Journal  Journal // optional
	Now      time.Time
}

// Vault is the root aggregate. All fields are guarded by mu.
type Vault struct {
	mu  sync.Mutex
	id  uuid.UUID
	log zerolog.Logger

	gate     *access.Gate
	prices   pricing.Source
	adaptors *adaptor.Registry
	params   types.VaultParams
	journal  Journal

	status        Status
	totalShares   sdkmath.Int // ShareScale precision
	freePrincipal sdkmath.Int // principal native base units
	accruedFees   sdkmath.Int // principal native base units

	// valuation ledger; the three key sets are identical at all times
	assetTypes           map[types.AssetTypeID]struct{}
	assetsValue          map[types.AssetTypeID]sdkmath.Int
	assetsValueUpdatedAt map[types.AssetTypeID]time.Time
	custody              map[types.AssetTypeID]types.Position

	// loss governor
	lossToleranceBps  uint32
	currentEpochLoss  sdkmath.Int
	epochLossBaseline sdkmath.Int

	// operation lifecycle
	activeOpID         uuid.UUID
	valueUpdateEnabled bool
	// borrowedUpdated's key set is the borrowed set; the value marks whether
	// the asset has received a fresh valuation since return
	borrowedUpdated map[types.AssetTypeID]bool

	// share ledger
	nextRequestID      uint64
	pendingDeposits    map[uint64]*types.DepositRequest
	pendingWithdrawals map[uint64]*types.WithdrawRequest
}

// New creates a vault holding only the principal asset type, with a zero
// valuation entry stamped at cfg.Now.
func New(cfg Config) (*Vault, error) {
	if cfg.Gate == nil {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "gate cannot be nil")
	}
	if cfg.Prices == nil {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "price source cannot be nil")
	}
	if cfg.Adaptors == nil {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "adaptor registry cannot be nil")
	}
	if cfg.Params.LossToleranceBps > fixedpoint.BpsDenominator {
		return nil, errorsmod.Wrap(verrors.ErrInvalidRequest, "loss tolerance above 10000 bps")
	}

	v := &Vault{
		id:                   uuid.New(),
		log:                  logger.GetForComponent("vault"),
		gate:                 cfg.Gate,
		prices:               cfg.Prices,
		adaptors:             cfg.Adaptors,
		params:               cfg.Params,
		journal:              cfg.Journal,
		status:               StatusNormal,
		totalShares:          sdkmath.ZeroInt(),
		freePrincipal:        sdkmath.ZeroInt(),
		accruedFees:          sdkmath.ZeroInt(),
		assetTypes:           make(map[types.AssetTypeID]struct{}),
		assetsValue:          make(map[types.AssetTypeID]sdkmath.Int),
		assetsValueUpdatedAt: make(map[types.AssetTypeID]time.Time),
		custody:              make(map[types.AssetTypeID]types.Position),
		lossToleranceBps:     cfg.Params.LossToleranceBps,
		currentEpochLoss:     sdkmath.ZeroInt(),
		epochLossBaseline:    sdkmath.ZeroInt(),
		pendingDeposits:      make(map[uint64]*types.DepositRequest),
		pendingWithdrawals:   make(map[uint64]*types.WithdrawRequest),
	}

	v.assetTypes[types.PrincipalAssetType] = struct{}{}
	v.assetsValue[types.PrincipalAssetType] = sdkmath.ZeroInt()
	v.assetsValueUpdatedAt[types.PrincipalAssetType] = cfg.Now

	v.log.Info().Str("vault_id", v.id.String()).Msg("Vault created")
	return v, nil
}

// ID returns the vault identity.
func (v *Vault) ID() uuid.UUID {
	return v.id
}

// Gate returns the access gate for out-of-band credential administration.
func (v *Vault) Gate() *access.Gate {
	return v.gate
}

// Status returns the current lifecycle status.
func (v *Vault) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// TotalShares returns the outstanding shares at ShareScale precision.
func (v *Vault) TotalShares() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares
}

// AssetTypes returns the registered asset type set, principal included.
func (v *Vault) AssetTypes() []types.AssetTypeID {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]types.AssetTypeID, 0, len(v.assetTypes))
	for asset := range v.assetTypes {
		out = append(out, asset)
	}
	return out
}

// AssetValue returns the last written ledger entry for one asset type and
// the time it was written. No freshness check is applied.
func (v *Vault) AssetValue(asset types.AssetTypeID) (sdkmath.Int, time.Time, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.assetsValue[asset]
	if !ok {
		return sdkmath.Int{}, time.Time{}, errorsmod.Wrapf(verrors.ErrNotFound, "asset type %s not registered", asset)
	}
	return value, v.assetsValueUpdatedAt[asset], nil
}

// RegisterAssetType places an external position under custody and registers
// its asset type in the valuation ledger. The entry starts with a zero value
// stamped in the distant past, so total vault value fails StaleValuation
// until the position receives its first valuation. Admin-gated.
func (v *Vault) RegisterAssetType(admin uuid.UUID, pos types.Position) error {
	if err := v.gate.Authorize(admin, access.RoleAdmin); err != nil {
		return err
	}
	if pos == nil {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "nil position")
	}
	asset := pos.AssetType()
	if asset == types.PrincipalAssetType {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "principal is always registered")
	}
	if _, err := v.adaptors.Lookup(asset); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusNormal {
		return errorsmod.Wrapf(verrors.ErrInvalidState, "vault status is %s", v.status)
	}
	if _, exists := v.assetTypes[asset]; exists {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "asset type %s already registered", asset)
	}

	v.assetTypes[asset] = struct{}{}
	v.assetsValue[asset] = sdkmath.ZeroInt()
	v.assetsValueUpdatedAt[asset] = time.Time{}
	v.custody[asset] = pos

	v.log.Info().Str("asset", string(asset)).Msg("Asset type registered")
	return nil
}

// SetEnabled toggles the vault between Normal and Disabled. Admin-gated;
// refuses to act while an operation is in flight.
func (v *Vault) SetEnabled(admin uuid.UUID, enabled bool) error {
	if err := v.gate.Authorize(admin, access.RoleAdmin); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == StatusDuringOperation {
		return errorsmod.Wrap(verrors.ErrInvalidState, "cannot toggle enabled during an operation")
	}
	if enabled {
		v.status = StatusNormal
	} else {
		v.status = StatusDisabled
	}
	v.log.Warn().Bool("enabled", enabled).Msg("Vault enabled flag changed")
	v.record(types.OperationEvent{Kind: "set_enabled", Detail: map[string]string{"enabled": boolString(enabled)}})
	return nil
}

// CollectFees drains the accrued fee accumulator. Admin-gated.
func (v *Vault) CollectFees(admin uuid.UUID) (sdkmath.Int, error) {
	if err := v.gate.Authorize(admin, access.RoleAdmin); err != nil {
		return sdkmath.Int{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	collected := v.accruedFees
	v.accruedFees = sdkmath.ZeroInt()
	v.log.Info().Str("amount", collected.String()).Msg("Fees collected")
	v.record(types.OperationEvent{Kind: "fees_collected", Detail: map[string]string{"amount": collected.String()}})
	return collected, nil
}

// Snapshot returns a point-in-time view of the aggregate. Values are the
// last written ledger entries; no freshness check is applied here.
func (v *Vault) Snapshot(epochNumber int, now time.Time) types.VaultSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	total := sdkmath.ZeroInt()
	assetValues := make(map[types.AssetTypeID]string, len(v.assetsValue))
	for asset, value := range v.assetsValue {
		assetValues[asset] = value.String()
		total = total.Add(value)
	}

	return types.VaultSnapshot{
		EpochNumber:        epochNumber,
		Timestamp:          now,
		Status:             string(v.status),
		TotalShares:        v.totalShares.String(),
		TotalValueUSD:      total.String(),
		FreePrincipal:      v.freePrincipal.String(),
		AccruedFees:        v.accruedFees.String(),
		EpochLoss:          v.currentEpochLoss.String(),
		EpochLossBaseline:  v.epochLossBaseline.String(),
		PendingDeposits:    len(v.pendingDeposits),
		PendingWithdrawals: len(v.pendingWithdrawals),
		AssetValues:        assetValues,
	}
}

// record forwards an event to the journal, filling vault identity and
// timestamp when absent.
func (v *Vault) record(event types.OperationEvent) {
	if v.journal == nil {
		return
	}
	event.VaultID = v.id.String()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	v.journal.Record(event)
}

// publishGauges pushes aggregate figures to metrics. Called with mu held.
func (v *Vault) publishGauges() {
	metrics.SetVaultGauges(
		intToFloat(v.totalShares),
		intToFloat(v.sumLedgerLocked()),
		intToFloat(v.currentEpochLoss),
	)
}

func (v *Vault) sumLedgerLocked() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, value := range v.assetsValue {
		total = total.Add(value)
	}
	return total
}

// intToFloat renders a ShareScale-precision integer as whole units for
// gauges; precision loss is acceptable for metrics only.
func intToFloat(v sdkmath.Int) float64 {
	f, err := sdkmath.LegacyNewDecFromInt(v).QuoInt(fixedpoint.ShareScale).Float64()
	if err != nil {
		return 0
	}
	return f
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
