/*

Point-in-time vault snapshots persisted by the engine loop, and the journal
event record written on every lifecycle transition. Numeric fields are
decimal strings so persistence never loses precision.

*/

package types

import "time"

// VaultSnapshot is a point-in-time view of the vault aggregate.
type VaultSnapshot struct {
	EpochNumber        int                    `json:"epoch_number"`
	Timestamp          time.Time              `json:"timestamp"`
	Status             string                 `json:"status"`
	TotalShares        string                 `json:"total_shares"`
	TotalValueUSD      string                 `json:"total_value_usd"`
	FreePrincipal      string                 `json:"free_principal"`
	AccruedFees        string                 `json:"accrued_fees"`
	EpochLoss          string                 `json:"epoch_loss"`
	EpochLossBaseline  string                 `json:"epoch_loss_baseline"`
	PendingDeposits    int                    `json:"pending_deposits"`
	PendingWithdrawals int                    `json:"pending_withdrawals"`
	AssetValues        map[AssetTypeID]string `json:"asset_values"`
}

// OperationEvent is one journaled lifecycle transition or request action.
type OperationEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	Kind        string            `json:"kind"`
	VaultID     string            `json:"vault_id"`
	OperationID string            `json:"operation_id,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
}
