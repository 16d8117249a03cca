// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonlabs/cvm/internal/types"
)

// SaveRiskParameters saves a new version of risk parameters.
func SaveRiskParameters(params types.RiskParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE risk_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO risk_parameters (
			version, config_name, is_active, activated_at, created_at,
			loss_tolerance_bps, deposit_fee_bps, withdraw_fee_bps,
			max_price_staleness_secs, max_update_interval_secs, cancel_lock_secs,
			market_deviation_bps, epoch_duration_secs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING params_id;
	`

	now := time.Now()
	var paramsID int64
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, now, now,
		params.LossToleranceBps, params.DepositFeeBps, params.WithdrawFeeBps,
		params.MaxPriceStalenessSecs, params.MaxUpdateIntervalSecs, params.CancelLockSecs,
		params.MarketDeviationBps, params.EpochDurationSecs,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert risk parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit risk parameters: %w", err)
	}

	log.Info().
		Int64("params_id", paramsID).
		Str("config_name", configName).
		Int("version", version).
		Bool("active", makeActive).
		Msg("Risk parameters saved")

	return paramsID, nil
}

// LoadActiveRiskParameters loads the currently active parameter set for a config name.
func LoadActiveRiskParameters(configName string) (*types.RiskParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT loss_tolerance_bps, deposit_fee_bps, withdraw_fee_bps,
		       max_price_staleness_secs, max_update_interval_secs, cancel_lock_secs,
		       market_deviation_bps, epoch_duration_secs
		FROM risk_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;
	`

	var params types.RiskParameters
	err := DB.QueryRow(query, configName).Scan(
		&params.LossToleranceBps, &params.DepositFeeBps, &params.WithdrawFeeBps,
		&params.MaxPriceStalenessSecs, &params.MaxUpdateIntervalSecs, &params.CancelLockSecs,
		&params.MarketDeviationBps, &params.EpochDurationSecs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active risk parameters found for config %s", configName)
		}
		return nil, fmt.Errorf("failed to load active risk parameters: %w", err)
	}

	return &params, nil
}

// GetActiveRiskParametersID returns the id of the active parameter set, if any.
func GetActiveRiskParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT params_id FROM risk_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;
	`

	var paramsID int64
	err := DB.QueryRow(query, configName).Scan(&paramsID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active risk parameters id: %w", err)
	}
	return &paramsID, nil
}
