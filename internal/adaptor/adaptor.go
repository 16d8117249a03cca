/*

Position adaptor contract and registry.

An adaptor answers one question: given a handle to a borrowed external
position, the live state of its market, and a normalized price source, what
is the position worth in USD at canonical precision? Adaptors are pure with
respect to vault state. Each concrete external protocol gets its own adaptor,
registered per asset type at configuration time.

*/

package adaptor

import (
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/halcyonlabs/cvm/internal/pricing"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

// PositionAdaptor values positions of one asset type.
//
// Implementations must derive token amounts from the market's current state,
// include every component of value the position yields on exit (accrued fees
// and rewards, not just principal), validate that any market-internal price
// is fresh and within a bounded deviation of the oracle, and verify the
// market handle actually corresponds to the position being valued.
type PositionAdaptor interface {
	AssetType() types.AssetTypeID
	ValueOf(pos types.Position, market types.MarketState, prices pricing.Source, now time.Time) (sdkmath.Int, error)
}

// MarketSource supplies the current market state handle for an asset type.
// Implemented by deployment glue (protocol clients) and by test fixtures.
type MarketSource interface {
	MarketFor(asset types.AssetTypeID) (types.MarketState, error)
}

// Registry maps asset type to its adaptor. Registration happens once at
// configuration time; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adaptors map[types.AssetTypeID]PositionAdaptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adaptors: make(map[types.AssetTypeID]PositionAdaptor)}
}

// Register binds an adaptor to its asset type. Re-registering an asset type
// is rejected; adaptor wiring is not mutable at runtime.
func (r *Registry) Register(a PositionAdaptor) error {
	if a == nil {
		return errorsmod.Wrap(verrors.ErrInvalidRequest, "nil adaptor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adaptors[a.AssetType()]; exists {
		return errorsmod.Wrapf(verrors.ErrInvalidRequest, "adaptor for %s already registered", a.AssetType())
	}
	r.adaptors[a.AssetType()] = a
	return nil
}

// Lookup returns the adaptor for an asset type.
func (r *Registry) Lookup(asset types.AssetTypeID) (PositionAdaptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adaptors[asset]
	if !ok {
		return nil, errorsmod.Wrapf(verrors.ErrNotFound, "no adaptor for asset %s", asset)
	}
	return a, nil
}

// StaticMarketSource serves market states from a fixed map. Used by tests
// and by deployments whose market handles are refreshed out of band.
type StaticMarketSource struct {
	mu      sync.RWMutex
	markets map[types.AssetTypeID]types.MarketState
}

// NewStaticMarketSource creates an empty static source.
func NewStaticMarketSource() *StaticMarketSource {
	return &StaticMarketSource{markets: make(map[types.AssetTypeID]types.MarketState)}
}

// Set stores the current market state for an asset type.
func (s *StaticMarketSource) Set(asset types.AssetTypeID, market types.MarketState) {
	s.mu.Lock()
	s.markets[asset] = market
	s.mu.Unlock()
}

// MarketFor returns the stored market state for an asset type.
func (s *StaticMarketSource) MarketFor(asset types.AssetTypeID) (types.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[asset]
	if !ok {
		return nil, errorsmod.Wrapf(verrors.ErrNotFound, "no market state for asset %s", asset)
	}
	return m, nil
}
