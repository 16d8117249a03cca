package vault

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/cvm/internal/access"
	"github.com/halcyonlabs/cvm/internal/adaptor"
	"github.com/halcyonlabs/cvm/internal/fixedpoint"
	"github.com/halcyonlabs/cvm/internal/pricing"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const lendAsset = types.AssetTypeID("lend-atom")

// tokens converts whole principal tokens to base units (9 native decimals).
func tokens(n int64) sdkmath.Int {
	return fixedpoint.ShareScale.MulRaw(n)
}

// usd converts whole dollars to canonical USD precision.
func usd(n int64) sdkmath.Int {
	return fixedpoint.ShareScale.MulRaw(n)
}

// stubAdaptor values every position at whatever the test last assigned.
type stubAdaptor struct {
	asset types.AssetTypeID
	value *sdkmath.Int
}

func (s *stubAdaptor) AssetType() types.AssetTypeID { return s.asset }

func (s *stubAdaptor) ValueOf(types.Position, types.MarketState, pricing.Source, time.Time) (sdkmath.Int, error) {
	return *s.value, nil
}

type stubPosition struct {
	asset types.AssetTypeID
}

func (p stubPosition) AssetType() types.AssetTypeID { return p.asset }

type testEnv struct {
	v         *Vault
	gate      *access.Gate
	admin     uuid.UUID
	operator  uuid.UUID
	prices    *pricing.Cache
	lendValue sdkmath.Int
}

func defaultParams() types.VaultParams {
	return types.VaultParams{
		MaxPriceStaleness: 24 * time.Hour,
		MaxUpdateInterval: time.Hour,
		LossToleranceBps:  500,
		DepositFeeBps:     0,
		WithdrawFeeBps:    0,
		CancelLockPeriod:  time.Hour,
	}
}

func newTestEnv(t *testing.T, params types.VaultParams) *testEnv {
	t.Helper()

	env := &testEnv{
		gate:      access.NewGate(),
		prices:    pricing.NewCache(params.MaxPriceStaleness),
		lendValue: usd(500),
	}

	var err error
	env.admin, err = env.gate.Issue(access.RoleAdmin)
	require.NoError(t, err)
	env.operator, err = env.gate.Issue(access.RoleOperator)
	require.NoError(t, err)

	// principal at $1, canonical decimals
	require.NoError(t, env.prices.Update(types.PrincipalAssetType, fixedpoint.OracleScale, 9, t0))

	registry := adaptor.NewRegistry()
	require.NoError(t, registry.Register(&stubAdaptor{asset: lendAsset, value: &env.lendValue}))

	env.v, err = New(Config{
		Gate:     env.gate,
		Prices:   env.prices,
		Adaptors: registry,
		Params:   params,
		Now:      t0,
	})
	require.NoError(t, err)
	return env
}

// deposit queues and executes a deposit of n whole tokens, returning the
// minted shares.
func (env *testEnv) deposit(t *testing.T, n int64, now time.Time) sdkmath.Int {
	t.Helper()
	req, err := env.v.RequestDeposit(tokens(n), sdkmath.ZeroInt(), "alice", now)
	require.NoError(t, err)
	minted, err := env.v.ExecuteDeposit(env.operator, req.RequestID, sdkmath.Int{}, now)
	require.NoError(t, err)
	return minted
}

// registerLend puts the stub lending position under custody and gives it a
// fresh valuation.
func (env *testEnv) registerLend(t *testing.T, now time.Time) {
	t.Helper()
	require.NoError(t, env.v.RegisterAssetType(env.admin, stubPosition{asset: lendAsset}))
	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, now))
}

func TestFirstDepositMintsAtParity(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	minted := env.deposit(t, 1000, t0)
	// empty vault: ratio defaults to 1.0, so 1000 tokens at $1 mint exactly
	// 1000 whole shares
	require.Equal(t, tokens(1000), minted)
	require.Equal(t, tokens(1000), env.v.TotalShares())
}

func TestDepositAtElevatedShareRatio(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)

	// mark the vault up to $2200 against 1000 shares: ratio 2.2
	require.NoError(t, env.v.FinishUpdate(types.PrincipalAssetType, usd(2200), t0))

	req, err := env.v.RequestDeposit(tokens(1000), sdkmath.ZeroInt(), "bob", t0)
	require.NoError(t, err)
	minted, err := env.v.ExecuteDeposit(env.operator, req.RequestID, sdkmath.Int{}, t0)
	require.NoError(t, err)

	// $1000 / 2.2 per share = 454.545454545 shares, floored
	require.Equal(t, sdkmath.NewInt(454_545_454_545), minted)
}

func TestDepositFloorRejected(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	req, err := env.v.RequestDeposit(tokens(100), tokens(101), "alice", t0)
	require.NoError(t, err)

	_, err = env.v.ExecuteDeposit(env.operator, req.RequestID, sdkmath.Int{}, t0)
	require.ErrorIs(t, err, verrors.ErrSlippageExceeded)

	// failed execution must not consume the request
	require.Len(t, env.v.pendingDeposits, 1)
	require.True(t, env.v.TotalShares().IsZero())
}

func TestDepositCeilingRejected(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	req, err := env.v.RequestDeposit(tokens(100), sdkmath.ZeroInt(), "alice", t0)
	require.NoError(t, err)

	_, err = env.v.ExecuteDeposit(env.operator, req.RequestID, tokens(99), t0)
	require.ErrorIs(t, err, verrors.ErrSlippageExceeded)
}

func TestDepositFeeSkimmed(t *testing.T) {
	params := defaultParams()
	params.DepositFeeBps = 100 // 1%
	env := newTestEnv(t, params)

	minted := env.deposit(t, 1000, t0)
	// 1% fee: 990 net tokens mint 990 shares, 10 tokens accrue as fees
	require.Equal(t, tokens(990), minted)
	require.Equal(t, tokens(990), env.v.freePrincipal)
	require.Equal(t, tokens(10), env.v.accruedFees)

	collected, err := env.v.CollectFees(env.admin)
	require.NoError(t, err)
	require.Equal(t, tokens(10), collected)
	require.True(t, env.v.accruedFees.IsZero())
}

func TestWithdrawFloorCheckedAfterFee(t *testing.T) {
	params := defaultParams()
	params.WithdrawFeeBps = 100 // 1%
	env := newTestEnv(t, params)
	env.deposit(t, 1000, t0)

	// 100 shares redeem $100 gross = 100 tokens, 1 token fee, 99 net.
	// A floor of 99.000000001 tokens must fail against the net payout.
	req, err := env.v.RequestWithdraw(tokens(100), tokens(99).AddRaw(1), "alice", t0)
	require.NoError(t, err)
	_, err = env.v.ExecuteWithdraw(env.operator, req.RequestID, sdkmath.Int{}, t0)
	require.ErrorIs(t, err, verrors.ErrSlippageExceeded)

	// a floor of exactly 99 passes
	req2, err := env.v.RequestWithdraw(tokens(100), tokens(99), "alice", t0)
	require.NoError(t, err)
	paid, err := env.v.ExecuteWithdraw(env.operator, req2.RequestID, sdkmath.Int{}, t0)
	require.NoError(t, err)
	require.Equal(t, tokens(99), paid)

	require.Equal(t, tokens(900), env.v.TotalShares())
	require.Equal(t, tokens(900), env.v.freePrincipal)
	require.Equal(t, tokens(1), env.v.accruedFees)
}

func TestWithdrawExceedingSupplyRejected(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 100, t0)

	_, err := env.v.RequestWithdraw(tokens(101), sdkmath.ZeroInt(), "alice", t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)
}

func TestCancelLock(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	req, err := env.v.RequestDeposit(tokens(100), sdkmath.ZeroInt(), "alice", t0)
	require.NoError(t, err)

	err = env.v.CancelDeposit(req.RequestID, t0.Add(30*time.Minute))
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	require.NoError(t, env.v.CancelDeposit(req.RequestID, t0.Add(time.Hour)))
	require.Empty(t, env.v.pendingDeposits)

	env.deposit(t, 100, t0)
	wreq, err := env.v.RequestWithdraw(tokens(10), sdkmath.ZeroInt(), "alice", t0)
	require.NoError(t, err)
	err = env.v.CancelWithdraw(wreq.RequestID, t0.Add(time.Minute))
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)
	require.NoError(t, env.v.CancelWithdraw(wreq.RequestID, t0.Add(time.Hour)))
}

func TestRegisterAssetTypeSeedsStaleEntry(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	require.NoError(t, env.v.RegisterAssetType(env.admin, stubPosition{asset: lendAsset}))

	// the three ledger maps and custody must share one key set
	require.Len(t, env.v.assetTypes, 2)
	for asset := range env.v.assetTypes {
		_, ok := env.v.assetsValue[asset]
		require.True(t, ok)
		_, ok = env.v.assetsValueUpdatedAt[asset]
		require.True(t, ok)
	}
	_, held := env.v.custody[lendAsset]
	require.True(t, held)

	// total value fails until the new asset receives its first valuation
	_, err := env.v.TotalVaultValue(t0)
	require.ErrorIs(t, err, verrors.ErrStaleValuation)

	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, t0))
	total, err := env.v.TotalVaultValue(t0)
	require.NoError(t, err)
	require.Equal(t, usd(500), total)
}

func TestRegisterAssetTypeValidation(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	// principal cannot be re-registered
	err := env.v.RegisterAssetType(env.admin, stubPosition{asset: types.PrincipalAssetType})
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// no adaptor, no registration
	err = env.v.RegisterAssetType(env.admin, stubPosition{asset: "unknown"})
	require.ErrorIs(t, err, verrors.ErrNotFound)

	// operator credential cannot register
	err = env.v.RegisterAssetType(env.operator, stubPosition{asset: lendAsset})
	require.ErrorIs(t, err, verrors.ErrUnauthorized)

	require.NoError(t, env.v.RegisterAssetType(env.admin, stubPosition{asset: lendAsset}))
	err = env.v.RegisterAssetType(env.admin, stubPosition{asset: lendAsset})
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)
}

func TestStaleLedgerBlocksShareOps(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 100, t0)

	req, err := env.v.RequestDeposit(tokens(100), sdkmath.ZeroInt(), "alice", t0.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = env.v.ExecuteDeposit(env.operator, req.RequestID, sdkmath.Int{}, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, verrors.ErrStaleValuation)
}

func TestSetEnabled(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	require.NoError(t, env.v.SetEnabled(env.admin, false))
	require.Equal(t, StatusDisabled, env.v.Status())

	_, err := env.v.RequestDeposit(tokens(100), sdkmath.ZeroInt(), "alice", t0)
	require.ErrorIs(t, err, verrors.ErrInvalidState)

	_, _, err = env.v.StartOperation(env.operator, nil, tokens(1), t0)
	require.ErrorIs(t, err, verrors.ErrInvalidState)

	require.NoError(t, env.v.SetEnabled(env.admin, true))
	require.Equal(t, StatusNormal, env.v.Status())
	env.deposit(t, 100, t0)
}

func TestStartOperationValidation(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)

	// principal goes through principal_amount, not the asset list
	_, _, err := env.v.StartOperation(env.operator, []types.AssetTypeID{types.PrincipalAssetType}, sdkmath.ZeroInt(), t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// duplicate asset
	_, _, err = env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset, lendAsset}, sdkmath.ZeroInt(), t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// asset not in custody
	_, _, err = env.v.StartOperation(env.operator, []types.AssetTypeID{"unknown"}, sdkmath.ZeroInt(), t0)
	require.ErrorIs(t, err, verrors.ErrNotFound)

	// more principal than is free
	_, _, err = env.v.StartOperation(env.operator, nil, tokens(1001), t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// empty borrow set
	_, _, err = env.v.StartOperation(env.operator, nil, sdkmath.ZeroInt(), t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// admin credential cannot start operations
	_, _, err = env.v.StartOperation(env.admin, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.ErrorIs(t, err, verrors.ErrUnauthorized)

	// nothing above may have mutated state
	require.Equal(t, StatusNormal, env.v.Status())
	require.Equal(t, tokens(1000), env.v.freePrincipal)
}

func TestOperationLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, tokens(200), t0)
	require.NoError(t, err)
	require.Equal(t, StatusDuringOperation, env.v.Status())
	require.Equal(t, usd(1500), record.TotalUSDBefore)
	require.Equal(t, tokens(800), env.v.freePrincipal)
	require.Equal(t, tokens(200), bundle.Principal)
	_, held := env.v.custody[lendAsset]
	require.False(t, held)

	// valuation writes are blocked until the borrowed assets come back
	err = env.v.UpdatePositionValue(lendAsset, nil, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidState)

	// no share movement during the operation
	_, err = env.v.RequestDeposit(tokens(1), sdkmath.ZeroInt(), "alice", t0)
	require.ErrorIs(t, err, verrors.ErrInvalidState)

	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))
	_, held = env.v.custody[lendAsset]
	require.True(t, held)
	require.Equal(t, tokens(1000), env.v.freePrincipal)

	// closing before every borrowed asset is revalued must fail
	err = env.v.FinishOperationValueCheck(env.operator, record, t0)
	require.ErrorIs(t, err, verrors.ErrValueNotUpdated)

	require.NoError(t, env.v.UpdatePositionValue(types.PrincipalAssetType, nil, t0))
	env.lendValue = usd(440) // the excursion lost $60
	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, t0))

	require.NoError(t, env.v.FinishOperationValueCheck(env.operator, record, t0))
	require.Equal(t, StatusNormal, env.v.Status())
	require.Equal(t, usd(60), env.v.EpochLoss())
	require.Equal(t, tokens(1000), env.v.TotalShares())

	// the consumed record cannot be replayed
	err = env.v.FinishOperationValueCheck(env.operator, record, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidState)
}

func TestLossBudgetRejectsExcessLoss(t *testing.T) {
	env := newTestEnv(t, defaultParams()) // 500 bps tolerance
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0)) // baseline $1500, limit $75

	// first operation loses $60 of the $75 budget
	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)
	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))
	env.lendValue = usd(440)
	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, t0))
	require.NoError(t, env.v.FinishOperationValueCheck(env.operator, record, t0))
	require.Equal(t, usd(60), env.v.EpochLoss())

	// a second $20 loss would take the epoch to $80, over the $75 limit
	record2, bundle2, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)
	require.NoError(t, env.v.EndOperation(env.operator, bundle2, record2, t0))
	env.lendValue = usd(420)
	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, t0))

	err = env.v.FinishOperationValueCheck(env.operator, record2, t0)
	require.ErrorIs(t, err, verrors.ErrLossLimitExceeded)

	// the rejection leaves the operation open and the epoch loss untouched
	require.Equal(t, StatusDuringOperation, env.v.Status())
	require.Equal(t, usd(60), env.v.EpochLoss())

	// the admin escape hatch is the only way out
	require.NoError(t, env.v.ForceCloseOperation(env.admin, "loss budget exhausted"))
	require.Equal(t, StatusNormal, env.v.Status())
	require.Equal(t, usd(60), env.v.EpochLoss())
}

func TestEqualValueIsNoLoss(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)
	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))
	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, t0))
	require.NoError(t, env.v.FinishOperationValueCheck(env.operator, record, t0))

	require.True(t, env.v.EpochLoss().IsZero())
}

func TestFinishUpdateIdempotentForBorrowedAssets(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)
	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))

	// a second write for the same asset overwrites and still succeeds
	require.NoError(t, env.v.FinishUpdate(lendAsset, usd(490), t0))
	require.NoError(t, env.v.FinishUpdate(lendAsset, usd(495), t0))
	require.Equal(t, usd(495), env.v.assetsValue[lendAsset])

	require.NoError(t, env.v.FinishOperationValueCheck(env.operator, record, t0))
	require.Equal(t, usd(5), env.v.EpochLoss())
}

func TestOperationRecordIdentity(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)

	// a record claiming another vault's identity is rejected
	foreign := *record
	foreign.VaultID = uuid.New()
	err = env.v.EndOperation(env.operator, bundle, &foreign, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// a record with a fabricated operation ID is rejected
	fake := *record
	fake.ID = uuid.New()
	err = env.v.EndOperation(env.operator, bundle, &fake, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// a bundle from a different operation is rejected
	wrongBundle := *bundle
	wrongBundle.OperationID = uuid.New()
	err = env.v.EndOperation(env.operator, &wrongBundle, record, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))
}

func TestEndOperationRequiresCompleteBundle(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, tokens(100), t0)
	require.NoError(t, err)

	// drop the borrowed position from the returned bundle
	gutted := &BorrowedBundle{
		OperationID: bundle.OperationID,
		Principal:   bundle.Principal,
		Positions:   map[types.AssetTypeID]types.Position{},
	}
	err = env.v.EndOperation(env.operator, gutted, record, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	// a position of the wrong type under the right key is also rejected
	mistyped := &BorrowedBundle{
		OperationID: bundle.OperationID,
		Principal:   bundle.Principal,
		Positions: map[types.AssetTypeID]types.Position{
			lendAsset: stubPosition{asset: "other"},
		},
	}
	err = env.v.EndOperation(env.operator, mistyped, record, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))
}

func TestFrozenOperatorAndForceClose(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)

	// freezing mid-operation blocks the operator on the very next entry
	require.NoError(t, env.gate.Freeze(env.admin, env.operator))
	err = env.v.EndOperation(env.operator, bundle, record, t0)
	require.ErrorIs(t, err, verrors.ErrUnauthorized)

	// the legitimate path is stuck; the admin override unblocks the vault
	require.NoError(t, env.v.ForceCloseOperation(env.admin, "operator frozen"))
	require.Equal(t, StatusNormal, env.v.Status())

	// the vault resumes normal service afterwards
	require.NoError(t, env.gate.Unfreeze(env.admin, env.operator))
	env.deposit(t, 10, t0)
}

// memoryJournal captures journaled events for assertions.
type memoryJournal struct {
	events []types.OperationEvent
}

func (j *memoryJournal) Record(event types.OperationEvent) {
	j.events = append(j.events, event)
}

func (j *memoryJournal) lastOfKind(kind string) (types.OperationEvent, bool) {
	for i := len(j.events) - 1; i >= 0; i-- {
		if j.events[i].Kind == kind {
			return j.events[i], true
		}
	}
	return types.OperationEvent{}, false
}

func TestForceCloseWritesOffUnreturnedAssets(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	journal := &memoryJournal{}
	env.v.journal = journal
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	_, _, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, tokens(200), t0)
	require.NoError(t, err)

	// the operator vanishes with the bundle; the admin closes the operation
	// with nothing returned
	require.NoError(t, env.v.ForceCloseOperation(env.admin, "operator unreachable"))

	// the lost asset type is deregistered from all three ledger maps, not
	// left behind as an entry nothing can ever refresh
	_, registered := env.v.assetTypes[lendAsset]
	require.False(t, registered)
	_, ok := env.v.assetsValue[lendAsset]
	require.False(t, ok)
	_, ok = env.v.assetsValueUpdatedAt[lendAsset]
	require.False(t, ok)
	err = env.v.UpdatePositionValue(lendAsset, nil, t0)
	require.ErrorIs(t, err, verrors.ErrNotFound)

	// the un-returned principal stays gone
	require.Equal(t, tokens(800), env.v.freePrincipal)

	// the write-off is journaled with the asset's last known value
	event, found := journal.lastOfKind("operation_force_closed")
	require.True(t, found)
	require.Equal(t, usd(500).String(), event.Detail["written_off_"+string(lendAsset)])

	// well past MaxUpdateInterval the vault is still fully operable: a
	// principal refresh is enough, because no orphaned entry remains
	later := t0.Add(2 * time.Hour)
	require.NoError(t, env.v.UpdatePositionValue(types.PrincipalAssetType, nil, later))
	total, err := env.v.TotalVaultValue(later)
	require.NoError(t, err)
	require.Equal(t, usd(800), total)

	require.NoError(t, env.v.ResetEpoch(env.admin, later))
	env.deposit(t, 10, later)
	_, _, err = env.v.StartOperation(env.operator, nil, tokens(1), later)
	require.NoError(t, err)
}

func TestForceCloseKeepsReturnedAssets(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)
	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))

	// the bundle came back before the override, so nothing is written off
	require.NoError(t, env.v.ForceCloseOperation(env.admin, "value check abandoned"))
	_, registered := env.v.assetTypes[lendAsset]
	require.True(t, registered)
	_, held := env.v.custody[lendAsset]
	require.True(t, held)
}

func TestEndOperationJournalsPrincipalDelta(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	journal := &memoryJournal{}
	env.v.journal = journal
	env.deposit(t, 1000, t0)

	record, bundle, err := env.v.StartOperation(env.operator, nil, tokens(200), t0)
	require.NoError(t, err)
	require.Equal(t, tokens(200), record.PrincipalBorrowed)

	// an overstated return figure is accepted but leaves an auditable trail
	bundle.Principal = tokens(250)
	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))

	event, found := journal.lastOfKind("operation_ended")
	require.True(t, found)
	require.Equal(t, tokens(200).String(), event.Detail["principal_borrowed"])
	require.Equal(t, tokens(250).String(), event.Detail["returned_principal"])
	require.Equal(t, tokens(50).String(), event.Detail["principal_delta"])
}

func TestForceCloseRequiresOpenOperation(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	err := env.v.ForceCloseOperation(env.admin, "nothing open")
	require.ErrorIs(t, err, verrors.ErrInvalidState)

	err = env.v.ForceCloseOperation(env.operator, "wrong role")
	require.ErrorIs(t, err, verrors.ErrUnauthorized)
}

func TestResetEpoch(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))
	require.Equal(t, usd(1500), env.v.epochLossBaseline)

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)
	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))
	env.lendValue = usd(440)
	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, t0))
	require.NoError(t, env.v.FinishOperationValueCheck(env.operator, record, t0))
	require.Equal(t, usd(60), env.v.EpochLoss())

	// a new epoch starts clean, with the baseline re-snapshotted
	require.NoError(t, env.v.ResetEpoch(env.admin, t0))
	require.True(t, env.v.EpochLoss().IsZero())
	require.Equal(t, usd(1440), env.v.epochLossBaseline)
}

func TestResetEpochBlockedDuringOperation(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)
	require.NoError(t, env.v.ResetEpoch(env.admin, t0)) // baseline $1500, limit $75

	record, bundle, err := env.v.StartOperation(env.operator, []types.AssetTypeID{lendAsset}, sdkmath.ZeroInt(), t0)
	require.NoError(t, err)

	// a reset mid-operation would re-baseline and wipe the pending loss
	// before the value check could count it
	err = env.v.ResetEpoch(env.admin, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidState)

	require.NoError(t, env.v.EndOperation(env.operator, bundle, record, t0))
	env.lendValue = usd(440)
	require.NoError(t, env.v.UpdatePositionValue(lendAsset, nil, t0))

	// still blocked during the value-update phase
	err = env.v.ResetEpoch(env.admin, t0)
	require.ErrorIs(t, err, verrors.ErrInvalidState)

	// the $60 loss lands against the original baseline
	require.NoError(t, env.v.FinishOperationValueCheck(env.operator, record, t0))
	require.Equal(t, usd(60), env.v.EpochLoss())
	require.Equal(t, usd(1500), env.v.epochLossBaseline)
}

func TestSetLossTolerance(t *testing.T) {
	env := newTestEnv(t, defaultParams())

	err := env.v.SetLossTolerance(env.admin, 10_001)
	require.ErrorIs(t, err, verrors.ErrInvalidRequest)

	err = env.v.SetLossTolerance(env.operator, 100)
	require.ErrorIs(t, err, verrors.ErrUnauthorized)

	require.NoError(t, env.v.SetLossTolerance(env.admin, 100))
	require.Equal(t, uint32(100), env.v.lossToleranceBps)
}

func TestSnapshotReflectsState(t *testing.T) {
	env := newTestEnv(t, defaultParams())
	env.deposit(t, 1000, t0)
	env.registerLend(t, t0)

	snap := env.v.Snapshot(3, t0)
	require.Equal(t, 3, snap.EpochNumber)
	require.Equal(t, string(StatusNormal), snap.Status)
	require.Equal(t, tokens(1000).String(), snap.TotalShares)
	require.Equal(t, usd(1500).String(), snap.TotalValueUSD)
	require.Len(t, snap.AssetValues, 2)
	require.Equal(t, usd(500).String(), snap.AssetValues[lendAsset])
}
