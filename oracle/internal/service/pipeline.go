// Package service runs the per-claim evaluation pipeline: gather the claim,
// decide, commit to the ledger, then mirror the final state off-ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/oracle/internal/decision"
	"github.com/vims-labs/claim-oracle/oracle/internal/journal"
	"github.com/vims-labs/claim-oracle/oracle/internal/metrics"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
	"github.com/vims-labs/claim-oracle/oracle/internal/records"
	"github.com/vims-labs/claim-oracle/oracle/internal/verification"
	"github.com/vims-labs/claim-oracle/oracle/internal/writer"
)

const tracerName = "github.com/vims-labs/claim-oracle/oracle/internal/service"

// RecordStore is the system-of-record client.
type RecordStore interface {
	FetchClaim(ctx context.Context, claimID string) (*models.ClaimRecord, error)
	PushDecision(ctx context.Context, claimID string, update records.Update) error
}

// Verifier requests private verification verdicts.
type Verifier interface {
	Verify(ctx context.Context, req verification.Request) models.Verdict
}

// LedgerReader reads on-ledger claim state.
type LedgerReader interface {
	GetClaim(ctx context.Context, claimID string) (*models.LedgerClaim, error)
}

// Committer commits decisions to the ledger.
type Committer interface {
	Commit(ctx context.Context, d models.Decision) writer.Result
}

// EventPublisher announces decisions and raises reconciliation alerts.
type EventPublisher interface {
	PublishDecisionCommitted(ctx context.Context, d models.Decision, source models.Source, txHash string, block uint64) error
	PublishLedgerWriteFailed(ctx context.Context, d models.Decision, cause error) error
	PublishSyncFailed(ctx context.Context, d models.Decision, cause error) error
}

// Leaser hands out cross-replica claim leases.
type Leaser interface {
	Acquire(ctx context.Context, claimID string) (release func(), acquired bool)
}

// Pipeline evaluates claims. It implements ingestion.Processor.
type Pipeline struct {
	engine   *decision.Engine
	records  RecordStore
	verifier Verifier
	ledger   LedgerReader
	writer   Committer
	logger   *slog.Logger
	tracer   trace.Tracer

	journal   journal.Journal
	publisher EventPublisher
	lease     Leaser
}

// NewPipeline creates a pipeline with the required collaborators.
func NewPipeline(engine *decision.Engine, rs RecordStore, v Verifier, lr LedgerReader, w Committer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		engine:   engine,
		records:  rs,
		verifier: v,
		ledger:   lr,
		writer:   w,
		logger:   logger.With(slog.String("component", "pipeline")),
		tracer:   otel.Tracer(tracerName),
	}
}

// WithJournal records every decision and its outcome.
func (p *Pipeline) WithJournal(j journal.Journal) *Pipeline {
	p.journal = j
	return p
}

// WithPublisher publishes decision events and alerts.
func (p *Pipeline) WithPublisher(pub EventPublisher) *Pipeline {
	p.publisher = pub
	return p
}

// WithLease coordinates evaluation with other replicas.
func (p *Pipeline) WithLease(l Leaser) *Pipeline {
	p.lease = l
	return p
}

// WithTracerProvider overrides the global tracer provider.
func (p *Pipeline) WithTracerProvider(tp trace.TracerProvider) *Pipeline {
	p.tracer = tp.Tracer(tracerName)
	return p
}

// Outcome summarises what a pipeline run did.
type Outcome string

const (
	OutcomeSynced       Outcome = "synced"
	OutcomeSyncFailed   Outcome = "sync_failed"
	OutcomeCommitFailed Outcome = "commit_failed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeLeased       Outcome = "leased_elsewhere"
	OutcomeNoData       Outcome = "no_data"
	OutcomePanicked     Outcome = "panicked"
)

// Process evaluates one claim. It never panics and never returns an
// error; every failure is logged, counted and, where a decision exists,
// journaled for reconciliation.
func (p *Pipeline) Process(ctx context.Context, ev models.ClaimEvent) {
	p.Run(ctx, ev)
}

// Run is Process returning the outcome.
func (p *Pipeline) Run(ctx context.Context, ev models.ClaimEvent) (out Outcome) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "claim.process", trace.WithAttributes(
		attribute.String("claim.id", ev.ClaimID),
		attribute.String("claim.source", string(ev.Source)),
		attribute.Bool("claim.forced", ev.Force),
	))
	log := p.logger.With(logging.ClaimID(ev.ClaimID), logging.Source(string(ev.Source)))

	defer func() {
		if r := recover(); r != nil {
			metrics.PipelinePanics.Inc()
			log.Error("claim pipeline panicked",
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			out = OutcomePanicked
		}
		span.SetAttributes(attribute.String("claim.outcome", string(out)))
		span.End()
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		metrics.DecisionsTotal.WithLabelValues(string(out)).Inc()
	}()

	if p.lease != nil && !ev.Force {
		release, ok := p.lease.Acquire(ctx, ev.ClaimID)
		if !ok {
			return OutcomeLeased
		}
		defer release()
	}

	in, err := p.gather(ctx, ev, log)
	if err != nil {
		log.Error("cannot evaluate claim without claim data", logging.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return OutcomeNoData
	}
	if in.evaluated && !ev.Force {
		log.Info("claim already evaluated, skipping")
		return OutcomeSkipped
	}

	d := p.decide(ctx, ev.ClaimID, in, log)
	span.SetAttributes(
		attribute.Int("claim.severity", d.Severity),
		attribute.Bool("claim.approved", d.Approved),
		attribute.Int64("claim.payout", d.PayoutAmount),
	)

	entryID, journaled := p.journalDecision(ctx, d, ev.Source, log)

	res := p.commit(ctx, d)
	metrics.CommitsTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.CommitDuration.Observe(res.Duration.Seconds())

	var update records.Update
	switch res.Outcome {
	case writer.OutcomeCommitted:
		p.transition(ctx, entryID, journaled, journal.Transition{State: journal.StateCommitted, TxHash: res.Receipt.TxHash}, log)
		p.publishCommitted(ctx, d, ev.Source, res, log)
		update = records.UpdateFromDecision(d)

	case writer.OutcomeAlreadyEvaluated:
		p.transition(ctx, entryID, journaled, journal.Transition{State: journal.StateAlreadyEvaluated}, log)
		lc, err := p.ledger.GetClaim(ctx, ev.ClaimID)
		if err != nil {
			p.syncFailed(ctx, d, entryID, journaled, fmt.Errorf("read ledger state: %w", err), log)
			span.SetStatus(codes.Error, err.Error())
			return OutcomeSyncFailed
		}
		update = records.UpdateFromLedger(lc)

	default:
		metrics.LedgerWriteFailures.Inc()
		p.transition(ctx, entryID, journaled, journal.Transition{State: journal.StateCommitFailed, Error: errString(res.Err)}, log)
		if p.publisher != nil {
			if err := p.publisher.PublishLedgerWriteFailed(ctx, d, res.Err); err != nil {
				log.Warn("failed to publish ledger write alert", logging.Error(err))
			}
		}
		span.SetStatus(codes.Error, errString(res.Err))
		return OutcomeCommitFailed
	}

	if err := p.records.PushDecision(ctx, ev.ClaimID, update); err != nil {
		p.syncFailed(ctx, d, entryID, journaled, err, log)
		span.SetStatus(codes.Error, err.Error())
		return OutcomeSyncFailed
	}
	p.transition(ctx, entryID, journaled, journal.Transition{State: journal.StateSynced}, log)
	log.Info("claim state synced to system of record",
		slog.String("status", update.Status.String()),
		slog.Int64("payout", update.PayoutAmount))
	return OutcomeSynced
}

type claimInput struct {
	policyID        string
	userID          string
	reportReference string
	severity        int
	evaluated       bool
}

// gather resolves the claim fields the decision needs. The triggering
// event wins; the system of record fills gaps, and the ledger stands in
// when the system of record cannot answer.
func (p *Pipeline) gather(ctx context.Context, ev models.ClaimEvent, log *slog.Logger) (claimInput, error) {
	in := claimInput{policyID: ev.PolicyID, userID: ev.UserID, reportReference: ev.ReportReference}
	severity := ev.Severity
	haveData := ev.Severity != nil

	rec, err := p.records.FetchClaim(ctx, ev.ClaimID)
	if err == nil {
		haveData = true
		in.policyID = firstNonEmpty(in.policyID, rec.PolicyID)
		in.userID = firstNonEmpty(in.userID, rec.UserID)
		in.reportReference = firstNonEmpty(in.reportReference, rec.ReportReference)
		if severity == nil {
			severity = rec.SeverityScore
		}
		in.evaluated = rec.LedgerEvaluated
	} else {
		log.Warn("system of record lookup failed, reading claim from ledger", logging.Error(err))
		lc, lerr := p.ledger.GetClaim(ctx, ev.ClaimID)
		if lerr != nil {
			if !haveData {
				return in, errors.Join(err, lerr)
			}
			log.Warn("ledger lookup failed, deciding from event data", logging.Error(lerr))
		} else {
			in.policyID = firstNonEmpty(in.policyID, lc.PolicyID)
			in.userID = firstNonEmpty(in.userID, lc.UserID)
			in.reportReference = firstNonEmpty(in.reportReference, lc.ReportReference)
			if severity == nil {
				s := lc.Severity
				severity = &s
			}
			in.evaluated = lc.Status.Terminal()
		}
	}

	if severity == nil {
		log.Warn("claim has no severity score, treating as 0")
		in.severity = 0
	} else {
		in.severity = decision.ClampSeverity(*severity)
	}
	return in, nil
}

func (p *Pipeline) decide(ctx context.Context, claimID string, in claimInput, log *slog.Logger) models.Decision {
	var verdict *models.Verdict
	if p.engine.RequiresVerification(in.severity) {
		vctx, span := p.tracer.Start(ctx, "claim.verify")
		v := p.verifier.Verify(vctx, verification.Request{
			ClaimID:         claimID,
			PolicyID:        in.policyID,
			UserID:          in.userID,
			Severity:        in.severity,
			ReportReference: in.reportReference,
		})
		span.SetAttributes(attribute.Bool("verification.verified", v.Verified))
		span.End()
		metrics.VerificationCalls.WithLabelValues(strconv.FormatBool(v.Verified)).Inc()
		verdict = &v
	}

	d := p.engine.Decide(claimID, in.severity, verdict)
	log.Info("claim decided",
		logging.Severity(d.Severity),
		slog.Bool("approved", d.Approved),
		slog.Bool("verified", d.Verified),
		slog.Bool("verification_called", d.VerificationCalled),
		slog.Int64("payout", d.PayoutAmount),
		slog.String("reason", d.Reason))
	return d
}

func (p *Pipeline) commit(ctx context.Context, d models.Decision) writer.Result {
	ctx, span := p.tracer.Start(ctx, "claim.commit")
	defer span.End()
	res := p.writer.Commit(ctx, d)
	span.SetAttributes(attribute.String("ledger.outcome", string(res.Outcome)))
	if res.Receipt != nil {
		span.SetAttributes(attribute.String("ledger.tx_hash", res.Receipt.TxHash))
	}
	return res
}

func (p *Pipeline) publishCommitted(ctx context.Context, d models.Decision, source models.Source, res writer.Result, log *slog.Logger) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishDecisionCommitted(ctx, d, source, res.Receipt.TxHash, res.Receipt.BlockNumber); err != nil {
		log.Warn("failed to publish decision event", logging.Error(err))
	}
}

func (p *Pipeline) syncFailed(ctx context.Context, d models.Decision, entryID journalID, journaled bool, cause error, log *slog.Logger) {
	metrics.SyncFailures.Inc()
	log.Warn("system of record sync failed, ledger and record diverge until reconciled", logging.Error(cause))
	p.transition(ctx, entryID, journaled, journal.Transition{State: journal.StateSyncFailed, Error: cause.Error()}, log)
	if p.publisher != nil {
		if err := p.publisher.PublishSyncFailed(ctx, d, cause); err != nil {
			log.Warn("failed to publish sync alert", logging.Error(err))
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
