// Package ledger owns the session with the claims ledger: connection
// supervision, event queries and subscriptions, reads, and the oracle's
// evaluation transaction.
package ledger

import (
	"context"
	"errors"

	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// EventClaimSubmitted is the contract event emitted when a claim is recorded.
const EventClaimSubmitted = "ClaimSubmitted"

var (
	// ErrNotConnected is returned by every call while the session is down.
	ErrNotConnected = errors.New("ledger not connected")

	// ErrPushUnsupported means the endpoint cannot push events (e.g. plain
	// HTTP RPC). Callers fall back to polling.
	ErrPushUnsupported = errors.New("ledger endpoint does not support subscriptions")

	// ErrAlreadyEvaluated is the ledger refusing to evaluate a claim that is
	// already Approved or Rejected.
	ErrAlreadyEvaluated = errors.New("claim already evaluated on ledger")

	// ErrUnauthorized means the signing identity lacks the oracle role.
	ErrUnauthorized = errors.New("caller is not authorized to evaluate claims")

	// ErrReverted is any other rejected evaluation transaction.
	ErrReverted = errors.New("ledger transaction reverted")

	// ErrClaimNotFound is returned by GetClaim for unknown ids.
	ErrClaimNotFound = errors.New("claim not found on ledger")

	// ErrReadOnly is returned by EvaluateClaim when no oracle credential is configured.
	ErrReadOnly = errors.New("no oracle credential configured")
)

// Event is a decoded contract event. Fields holds the raw decoded values
// keyed by ABI parameter name; consumers coerce them.
type Event struct {
	Name        string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Fields      map[string]any
	// DecodeError is set when the log matched the event topic but its
	// payload could not be decoded.
	DecodeError error
}

// EvaluateRequest is the argument set of the evaluateClaim call.
type EvaluateRequest struct {
	ClaimID      string
	Approved     bool
	Verified     bool
	PayoutAmount int64
}

// Receipt summarises a mined evaluation transaction.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Subscription is a live event stream.
type Subscription interface {
	Unsubscribe()
	// Err delivers at most one error when the stream ends abnormally.
	Err() <-chan error
}

// Backend is one established RPC session.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, from, to uint64) ([]Event, error)
	Subscribe(ctx context.Context, sink chan<- Event) (Subscription, error)
	EvaluateClaim(ctx context.Context, req EvaluateRequest) (*Receipt, error)
	GetClaim(ctx context.Context, claimID string) (*models.LedgerClaim, error)
	Close()
}

// Dialer establishes a Backend. It is called on every connection attempt.
type Dialer func(ctx context.Context) (Backend, error)
