// Package nats publishes the oracle's decision and alert events and
// consumes operator reprocess requests.
package nats

import "time"

// DecisionCommittedEvent is published to claims.decisions.committed after a
// decision lands on the ledger.
type DecisionCommittedEvent struct {
	EventID      string    `json:"event_id"`
	ClaimID      string    `json:"claim_id"`
	Status       string    `json:"status"`
	Severity     int       `json:"severity"`
	Approved     bool      `json:"approved"`
	Verified     bool      `json:"verified"`
	PayoutAmount int64     `json:"payout_amount"`
	TxHash       string    `json:"tx_hash,omitempty"`
	BlockNumber  uint64    `json:"block_number,omitempty"`
	Source       string    `json:"source"`
	CommittedAt  time.Time `json:"committed_at"`
}

// AlertEvent is published to the claims.alerts.* subjects when a claim
// needs manual reconciliation.
type AlertEvent struct {
	EventID      string    `json:"event_id"`
	ClaimID      string    `json:"claim_id"`
	Kind         string    `json:"kind"`
	Error        string    `json:"error"`
	Approved     bool      `json:"approved"`
	PayoutAmount int64     `json:"payout_amount"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	AlertKindLedgerWriteFailed = "ledger_write_failed"
	AlertKindSyncFailed        = "sync_failed"
)

// ReprocessRequest is received on claims.jobs.reprocess.
type ReprocessRequest struct {
	ClaimID     string `json:"claim_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}
