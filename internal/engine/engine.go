/*

The valuation engine: the periodic loop that keeps the vault's ledger fresh.

Each cycle revalues every registered asset type through its market handle,
rolls the loss epoch when the configured epoch duration has elapsed, and
persists a vault snapshot. The engine never moves assets; it only reads
markets and writes valuations.

*/

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyonlabs/cvm/internal/adaptor"
	"github.com/halcyonlabs/cvm/internal/logger"
	"github.com/halcyonlabs/cvm/internal/state"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/vault"
)

const (
	// Exported for use in main.go
	DEFAULT_CONFIG_NAME    = "default_cvm_risk"
	DEFAULT_CONFIG_VERSION = 1
)

// Engine drives the vault's periodic valuation and epoch accounting.
type Engine struct {
	logger  zerolog.Logger
	vault   *vault.Vault
	markets adaptor.MarketSource

	admin         uuid.UUID
	epochDuration time.Duration

	// Runtime state
	cycleCount     int
	lastEpochReset time.Time
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Vault         *vault.Vault
	Markets       adaptor.MarketSource
	AdminID       uuid.UUID
	EpochDuration time.Duration
}

// NewEngine creates a new Engine instance with dependency injection
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:        logger.GetForComponent("engine_core"),
		vault:         cfg.Vault,
		markets:       cfg.Markets,
		admin:         cfg.AdminID,
		epochDuration: cfg.EpochDuration,
		cycleCount:    0,
	}

	e.logger.Info().
		Str("vault_id", e.vault.ID().String()).
		Dur("epoch_duration", e.epochDuration).
		Msg("Engine instance created successfully with dependency injection")

	return e, nil
}

// validateEngineConfig validates the engine configuration
func validateEngineConfig(cfg Config) error {
	if cfg.Vault == nil {
		return fmt.Errorf("vault cannot be nil")
	}
	if cfg.Markets == nil {
		return fmt.Errorf("market source cannot be nil")
	}
	if cfg.AdminID == uuid.Nil {
		return fmt.Errorf("admin credential cannot be nil")
	}
	if cfg.EpochDuration <= 0 {
		return fmt.Errorf("epoch duration must be positive")
	}
	return nil
}

// RunLoop starts the main engine loop with the specified interval
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting engine main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating engine cycle")
	e.RunCycle(ctx)
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Engine cycle completed")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating engine cycle")
			e.RunCycle(ctx)
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Engine cycle completed")
		}
	}
}

// RunCycle executes a complete valuation cycle
func (e *Engine) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting valuation cycle ---")

	// --- Step 1: Revalue every registered asset type ---
	cycleLogger.Info().Msg("Step 1: Revaluing registered assets...")
	assets := e.vault.AssetTypes()
	revalued := 0
	for _, asset := range assets {
		var market types.MarketState
		if asset != types.PrincipalAssetType {
			m, err := e.markets.MarketFor(asset)
			if err != nil {
				cycleLogger.Error().Err(err).Str("asset", string(asset)).Msg("No market state for asset, skipping revaluation")
				continue
			}
			market = m
		}
		if err := e.vault.UpdatePositionValue(asset, market, time.Now()); err != nil {
			cycleLogger.Error().Err(err).Str("asset", string(asset)).Msg("Failed to revalue asset")
			continue
		}
		revalued++
	}
	cycleLogger.Info().Int("assets", len(assets)).Int("revalued", revalued).Msg("Step 1: Revaluation complete.")

	// --- Step 2: Roll the loss epoch when due ---
	if e.lastEpochReset.IsZero() || time.Since(e.lastEpochReset) >= e.epochDuration {
		cycleLogger.Info().Msg("Step 2: Epoch duration elapsed, rolling loss epoch...")
		if err := e.rollEpoch(cycleLogger); err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to roll loss epoch; will retry next cycle")
		} else {
			e.lastEpochReset = time.Now()
		}
	}

	// --- Step 3: Persist a vault snapshot ---
	epochNumber, err := state.GetCurrentEpochNumber()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to read epoch counter; snapshot skipped")
		return
	}
	snapshot := e.vault.Snapshot(epochNumber, time.Now())
	snapshotID, err := state.SaveVaultSnapshot(snapshot)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist vault snapshot")
		return
	}

	cycleLogger.Info().
		Int64("snapshot_id", snapshotID).
		Int("epoch_number", epochNumber).
		Dur("cycle_duration", time.Since(cycleStartTime)).
		Msg("--- Valuation cycle complete ---")
}

// rollEpoch resets the vault's loss accounting and advances the persistent
// epoch counter. An operation in flight defers the roll to a later cycle.
func (e *Engine) rollEpoch(cycleLogger zerolog.Logger) error {
	if e.vault.Status() == vault.StatusDuringOperation {
		return fmt.Errorf("operation in flight, epoch roll deferred")
	}

	if err := e.vault.ResetEpoch(e.admin, time.Now()); err != nil {
		return fmt.Errorf("failed to reset loss epoch: %w", err)
	}

	newEpoch, err := state.IncrementEpochNumber()
	if err != nil {
		return fmt.Errorf("failed to increment epoch counter: %w", err)
	}

	cycleLogger.Info().Int("epoch_number", newEpoch).Msg("Loss epoch rolled")
	return nil
}
