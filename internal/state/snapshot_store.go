// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/halcyonlabs/cvm/internal/types"
)

// SaveVaultSnapshot saves a point-in-time vault snapshot to the database.
func SaveVaultSnapshot(snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	assetValuesJSON, err := json.Marshal(snapshot.AssetValues)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal asset_values: %w", err)
	}

	query := `
		INSERT INTO vault_snapshots (
			epoch_number, snapshot_timestamp, status,
			total_shares, total_value_usd, free_principal, accrued_fees,
			epoch_loss, epoch_loss_baseline,
			pending_deposits, pending_withdrawals, asset_values
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.EpochNumber, snapshot.Timestamp, snapshot.Status,
		snapshot.TotalShares, snapshot.TotalValueUSD, snapshot.FreePrincipal, snapshot.AccruedFees,
		snapshot.EpochLoss, snapshot.EpochLossBaseline,
		snapshot.PendingDeposits, snapshot.PendingWithdrawals, assetValuesJSON,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("epoch_number", snapshot.EpochNumber).
		Str("total_value_usd", snapshot.TotalValueUSD).
		Msg("Vault snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots returns the most recent snapshots, newest first.
func GetRecentSnapshots(limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT epoch_number, snapshot_timestamp, status,
		       total_shares, total_value_usd, free_principal, accrued_fees,
		       epoch_loss, epoch_loss_baseline,
		       pending_deposits, pending_withdrawals, asset_values
		FROM vault_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		var s types.VaultSnapshot
		var assetValuesJSON []byte
		if err := rows.Scan(
			&s.EpochNumber, &s.Timestamp, &s.Status,
			&s.TotalShares, &s.TotalValueUSD, &s.FreePrincipal, &s.AccruedFees,
			&s.EpochLoss, &s.EpochLossBaseline,
			&s.PendingDeposits, &s.PendingWithdrawals, &assetValuesJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vault snapshot: %w", err)
		}
		if err := json.Unmarshal(assetValuesJSON, &s.AssetValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal asset_values: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vault snapshots: %w", err)
	}

	return snapshots, nil
}
