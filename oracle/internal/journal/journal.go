// Package journal keeps a durable record of every decision and what
// happened when it was committed and synced. Rows in a failed state are
// the manual reconciliation backlog; nothing retries them automatically.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// State is the reconciliation state of a journal entry.
type State string

const (
	StatePending          State = "pending"
	StateCommitted        State = "committed"
	StateAlreadyEvaluated State = "already_evaluated"
	StateCommitFailed     State = "commit_failed"
	StateSynced           State = "synced"
	StateSyncFailed       State = "sync_failed"
)

// NeedsAttention reports whether an operator must reconcile the entry.
func (s State) NeedsAttention() bool {
	return s == StateCommitFailed || s == StateSyncFailed
}

// ErrNotFound is returned when updating an unknown entry.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one journaled decision.
type Entry struct {
	ID                 uuid.UUID     `json:"id"`
	ClaimID            string        `json:"claim_id"`
	Source             models.Source `json:"source"`
	Severity           int           `json:"severity"`
	Approved           bool          `json:"approved"`
	Verified           bool          `json:"verified"`
	PayoutAmount       int64         `json:"payout_amount"`
	VerificationCalled bool          `json:"verification_called"`
	Reason             string        `json:"reason,omitempty"`
	State              State         `json:"state"`
	TxHash             string        `json:"tx_hash,omitempty"`
	Error              string        `json:"error,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewEntry builds a pending entry for d.
func NewEntry(d models.Decision, source models.Source) (Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, err
	}
	now := time.Now().UTC()
	return Entry{
		ID:                 id,
		ClaimID:            d.ClaimID,
		Source:             source,
		Severity:           d.Severity,
		Approved:           d.Approved,
		Verified:           d.Verified,
		PayoutAmount:       d.PayoutAmount,
		VerificationCalled: d.VerificationCalled,
		Reason:             d.Reason,
		State:              StatePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Transition describes a state change of an entry.
type Transition struct {
	State  State
	TxHash string
	Error  string
}

// Journal stores decision entries.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Transition(ctx context.Context, id uuid.UUID, t Transition) error
	Unreconciled(ctx context.Context, limit int) ([]Entry, error)
	History(ctx context.Context, claimID string) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}
