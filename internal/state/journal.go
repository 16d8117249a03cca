// ./internal/state/journal.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/halcyonlabs/cvm/internal/types"
)

// Journal persists operation lifecycle events to the operation_journal
// table. It implements the vault's Journal interface; persistence failures
// are logged, never propagated into the transition that emitted the event.
type Journal struct{}

// NewJournal returns a database-backed journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Record appends one event to the journal.
func (j *Journal) Record(event types.OperationEvent) {
	if _, err := AppendOperationEvent(event); err != nil {
		log.Error().Err(err).Str("kind", event.Kind).Msg("Failed to journal operation event")
	}
}

// AppendOperationEvent inserts one event row and returns its id.
func AppendOperationEvent(event types.OperationEvent) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event detail: %w", err)
	}

	query := `
		INSERT INTO operation_journal (event_timestamp, kind, vault_id, operation_id, detail)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING event_id;
	`

	var eventID int64
	err = DB.QueryRow(query, event.Timestamp, event.Kind, event.VaultID, event.OperationID, detailJSON).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to append operation event: %w", err)
	}
	return eventID, nil
}

// ListOperationEvents returns the most recent journal entries, newest first.
func ListOperationEvents(limit int) ([]types.OperationEvent, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT event_timestamp, kind, vault_id, COALESCE(operation_id, ''), detail
		FROM operation_journal
		ORDER BY event_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation journal: %w", err)
	}
	defer rows.Close()

	var events []types.OperationEvent
	for rows.Next() {
		var e types.OperationEvent
		var detailJSON []byte
		if err := rows.Scan(&e.Timestamp, &e.Kind, &e.VaultID, &e.OperationID, &detailJSON); err != nil {
			return nil, fmt.Errorf("failed to scan operation event: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation journal: %w", err)
	}

	return events, nil
}
