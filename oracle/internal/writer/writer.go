// Package writer commits oracle decisions to the ledger.
package writer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// Outcome is the result class of a commit.
type Outcome string

const (
	OutcomeCommitted        Outcome = "committed"
	OutcomeAlreadyEvaluated Outcome = "already_evaluated"
	OutcomeFailed           Outcome = "failed"
)

// Ledger is the subset of the ledger manager the writer needs.
type Ledger interface {
	EvaluateClaim(ctx context.Context, req ledger.EvaluateRequest) (*ledger.Receipt, error)
	GetClaim(ctx context.Context, claimID string) (*models.LedgerClaim, error)
}

// Result describes a commit attempt.
type Result struct {
	Outcome  Outcome
	Receipt  *ledger.Receipt
	Err      error
	Duration time.Duration
}

// Writer submits evaluateClaim transactions. It never retries; a failed
// commit is reported and left for manual reconciliation.
type Writer struct {
	ledger Ledger
	logger *slog.Logger
}

// New creates a Writer.
func New(l Ledger, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{ledger: l, logger: logger}
}

// Commit records d on the ledger as the oracle.
func (w *Writer) Commit(ctx context.Context, d models.Decision) Result {
	start := time.Now()
	req := ledger.EvaluateRequest{
		ClaimID:      d.ClaimID,
		Approved:     d.Approved,
		Verified:     d.Verified,
		PayoutAmount: d.PayoutAmount,
	}

	receipt, err := w.ledger.EvaluateClaim(ctx, req)
	res := Result{Receipt: receipt, Err: err}
	switch {
	case err == nil:
		res.Outcome = OutcomeCommitted
	case errors.Is(err, ledger.ErrAlreadyEvaluated):
		res.Outcome = OutcomeAlreadyEvaluated
	case errors.Is(err, ledger.ErrReverted) && w.terminalOnLedger(ctx, d.ClaimID):
		// A mined-but-failed tx carries no reason; the ledger state tells us
		// whether someone else got there first.
		res.Outcome = OutcomeAlreadyEvaluated
	default:
		res.Outcome = OutcomeFailed
	}
	res.Duration = time.Since(start)

	log := w.logger.With(logging.ClaimID(d.ClaimID), slog.String("outcome", string(res.Outcome)),
		logging.Duration(res.Duration.Milliseconds()))
	switch res.Outcome {
	case OutcomeCommitted:
		log.Info("decision committed to ledger",
			logging.TxHash(receipt.TxHash),
			slog.Bool("approved", d.Approved),
			slog.Int64("payout", d.PayoutAmount))
	case OutcomeAlreadyEvaluated:
		log.Info("claim already evaluated on ledger")
	default:
		log.Error("ledger write failed", logging.Error(err))
	}
	return res
}

func (w *Writer) terminalOnLedger(ctx context.Context, claimID string) bool {
	c, err := w.ledger.GetClaim(ctx, claimID)
	if err != nil {
		return false
	}
	return c.Status.Terminal()
}
