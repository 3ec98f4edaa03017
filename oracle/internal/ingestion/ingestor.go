// Package ingestion detects ClaimSubmitted events and hands each claim to
// the evaluation pipeline exactly once per process.
package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/metrics"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// DefaultPollInterval is the poll cadence, also used to check the push
// subscription for resubscription.
const DefaultPollInterval = 10 * time.Second

// ErrInFlight is returned by Trigger while the claim is being evaluated.
var ErrInFlight = errors.New("claim evaluation already in flight")

// Ledger is the read side of the ledger manager.
type Ledger interface {
	Connected() bool
	Generation() uint64
	CurrentHeight(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, from, to uint64) ([]ledger.Event, error)
	Subscribe(ctx context.Context, sink chan<- ledger.Event) (ledger.Subscription, error)
}

// Processor evaluates one claim. It must not panic and owns its own error
// reporting; ingestion does not look at the outcome.
type Processor interface {
	Process(ctx context.Context, ev models.ClaimEvent)
}

// Config controls ingestion.
type Config struct {
	PollInterval time.Duration
	// StartHeight is the first block the poll path scans. Zero means start
	// from the chain head observed on the first scan.
	StartHeight uint64
}

// Stats is a snapshot for health reporting.
type Stats struct {
	Processed     int    `json:"processed"`
	InFlight      int    `json:"in_flight"`
	LastScanned   uint64 `json:"last_scanned_height"`
	PushActive    bool   `json:"push_active"`
	PushSupported bool   `json:"push_supported"`
}

// Ingestor runs the push and poll paths behind a shared dedup gate.
type Ingestor struct {
	ledger    Ledger
	processor Processor
	cfg       Config
	logger    *slog.Logger
	processed *ProcessedSet

	mu            sync.Mutex
	inFlight      map[string]struct{}
	lastScanned   uint64
	scanStarted   bool
	pushActive    bool
	pushSupported bool

	// pipeCtx outlives the Start context so shutdown drains in-flight
	// pipelines; pipeCancel fires only when Stop's grace period runs out.
	pipeCtx    context.Context
	pipeCancel context.CancelFunc
	dispatch   sync.WaitGroup
	loops      sync.WaitGroup
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates an Ingestor. Call Start to begin receiving events.
func New(l Ledger, p Processor, cfg Config, logger *slog.Logger) *Ingestor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	return &Ingestor{
		ledger:        l,
		processor:     p,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "ingestion")),
		processed:     NewProcessedSet(),
		inFlight:      make(map[string]struct{}),
		pushSupported: true,
		pipeCtx:       pipeCtx,
		pipeCancel:    pipeCancel,
		stop:          make(chan struct{}),
	}
}

// Start launches the push and poll loops. Pipelines dispatched afterwards
// inherit ctx's values but not its cancellation; Stop bounds them instead.
func (i *Ingestor) Start(ctx context.Context) {
	i.mu.Lock()
	i.pipeCancel()
	i.pipeCtx, i.pipeCancel = context.WithCancel(context.WithoutCancel(ctx))
	i.mu.Unlock()

	i.logger.Info("ingestion started", slog.Duration("poll_interval", i.cfg.PollInterval),
		slog.Uint64("start_height", i.cfg.StartHeight))

	i.loops.Add(2)
	go i.pushLoop(ctx)
	go i.pollLoop(ctx)
}

// Stop halts both loops and waits for in-flight pipelines until ctx expires,
// then cancels whatever is still running.
func (i *Ingestor) Stop(ctx context.Context) error {
	i.stopOnce.Do(func() { close(i.stop) })
	i.loops.Wait()

	done := make(chan struct{})
	go func() {
		i.dispatch.Wait()
		close(done)
	}()
	i.mu.Lock()
	cancel := i.pipeCancel
	i.mu.Unlock()
	defer cancel()

	select {
	case <-done:
		i.logger.Info("ingestion stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Ingestor) pushLoop(ctx context.Context) {
	defer i.loops.Done()

	events := make(chan ledger.Event, 64)
	var (
		sub    ledger.Subscription
		subErr <-chan error
		gen    uint64
	)
	drop := func() {
		if sub != nil {
			sub.Unsubscribe()
		}
		sub, subErr = nil, nil
		i.setPushActive(false)
	}
	resubscribe := func() {
		drop()
		if !i.ledger.Connected() {
			return
		}
		g := i.ledger.Generation()
		s, err := i.ledger.Subscribe(ctx, events)
		if err != nil {
			if errors.Is(err, ledger.ErrPushUnsupported) {
				i.markPushUnsupported()
				return
			}
			i.logger.Warn("event subscription failed, relying on poll", logging.Error(err))
			return
		}
		sub, subErr, gen = s, s.Err(), g
		i.setPushActive(true)
		i.logger.Info("subscribed to ClaimSubmitted events", slog.Uint64("generation", g))
	}
	defer drop()

	resubscribe()
	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ctx.Done():
			return
		case ev := <-events:
			i.handle(ev, models.SourcePush)
		case err := <-subErr:
			if err != nil {
				i.logger.Warn("event subscription ended", logging.Error(err))
			}
			drop()
		case <-ticker.C:
			if sub == nil || gen != i.ledger.Generation() {
				resubscribe()
			}
		}
	}
}

func (i *Ingestor) pollLoop(ctx context.Context) {
	defer i.loops.Done()

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Scan(ctx)
		}
	}
}

// Scan runs one poll cycle. The cursor advances to the observed height even
// when the range query fails, so a failed range is not rescanned.
func (i *Ingestor) Scan(ctx context.Context) {
	if !i.ledger.Connected() {
		i.logger.Debug("poll skipped, ledger disconnected")
		return
	}
	height, err := i.ledger.CurrentHeight(ctx)
	if err != nil {
		i.logger.Warn("poll could not read ledger height", logging.Error(err))
		return
	}

	i.mu.Lock()
	if !i.scanStarted {
		i.scanStarted = true
		switch {
		case i.cfg.StartHeight > 0:
			i.lastScanned = i.cfg.StartHeight - 1
		case height > 0:
			i.lastScanned = height - 1
		}
	}
	from := i.lastScanned + 1
	if height < from {
		i.mu.Unlock()
		return
	}
	i.lastScanned = height
	i.mu.Unlock()
	metrics.LastScannedHeight.Set(float64(height))

	events, err := i.ledger.QueryEvents(ctx, from, height)
	if err != nil {
		i.logger.Error("poll range query failed, range will not be rescanned",
			slog.Uint64("from", from), slog.Uint64("to", height), logging.Error(err))
		metrics.SkippedBlocks.Add(float64(height - from + 1))
		return
	}
	if len(events) > 0 {
		i.logger.Debug("poll found events", slog.Int("count", len(events)),
			slog.Uint64("from", from), slog.Uint64("to", height))
	}
	for _, ev := range events {
		i.handle(ev, models.SourcePoll)
	}
}

func (i *Ingestor) handle(ev ledger.Event, source models.Source) {
	metrics.EventsReceived.WithLabelValues(string(source)).Inc()

	claim, err := ParseClaimSubmitted(ev)
	if err != nil {
		metrics.EventsMalformed.Inc()
		i.logger.Warn("dropping malformed event", logging.Source(string(source)),
			logging.Block(ev.BlockNumber), logging.TxHash(ev.TxHash), logging.Error(err))
		return
	}
	claim.Source = source

	if bad := InvalidReferences(append([]string{claim.ReportReference}, claim.EvidenceReferences...)...); len(bad) > 0 {
		i.logger.Warn("claim carries references that are not content identifiers",
			logging.ClaimID(claim.ClaimID), slog.Any("references", bad))
	}

	i.Submit(claim)
}

// Submit passes claim through the dedup gate and dispatches it if unseen.
// It reports whether the claim was dispatched.
func (i *Ingestor) Submit(claim models.ClaimEvent) bool {
	i.mu.Lock()
	if !i.processed.Add(claim.ClaimID) {
		i.mu.Unlock()
		metrics.EventsDeduplicated.WithLabelValues(string(claim.Source)).Inc()
		i.logger.Debug("claim already processed", logging.ClaimID(claim.ClaimID),
			logging.Source(string(claim.Source)))
		return false
	}
	i.inFlight[claim.ClaimID] = struct{}{}
	i.mu.Unlock()
	i.run(claim)
	return true
}

// Trigger force-processes a claim on operator request. It bypasses the
// processed check but refuses while the same claim is running.
func (i *Ingestor) Trigger(claimID string) error {
	if err := ValidateClaimID(claimID); err != nil {
		return err
	}

	i.mu.Lock()
	if _, running := i.inFlight[claimID]; running {
		i.mu.Unlock()
		return ErrInFlight
	}
	i.inFlight[claimID] = struct{}{}
	seen := i.processed.Contains(claimID)
	// Mark so ledger deliveries arriving later do not evaluate it again.
	i.processed.Add(claimID)
	i.mu.Unlock()

	i.logger.Info("manual evaluation triggered", logging.ClaimID(claimID),
		slog.Bool("reprocess", seen))

	i.run(models.ClaimEvent{ClaimID: claimID, Source: models.SourceTrigger, Force: true})
	return nil
}

func (i *Ingestor) run(claim models.ClaimEvent) {
	i.mu.Lock()
	ctx := i.pipeCtx
	inFlight := len(i.inFlight)
	i.mu.Unlock()
	metrics.InFlight.Set(float64(inFlight))

	i.dispatch.Add(1)
	go func() {
		defer i.dispatch.Done()
		defer func() {
			i.mu.Lock()
			delete(i.inFlight, claim.ClaimID)
			n := len(i.inFlight)
			i.mu.Unlock()
			metrics.InFlight.Set(float64(n))
		}()
		i.processor.Process(ctx, claim)
	}()
}

// Stats returns a snapshot of ingestion state.
func (i *Ingestor) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Stats{
		Processed:     i.processed.Len(),
		InFlight:      len(i.inFlight),
		LastScanned:   i.lastScanned,
		PushActive:    i.pushActive,
		PushSupported: i.pushSupported,
	}
}

func (i *Ingestor) setPushActive(active bool) {
	i.mu.Lock()
	i.pushActive = active
	i.mu.Unlock()
	metrics.BoolGauge(metrics.PushSubscribed, active)
}

func (i *Ingestor) markPushUnsupported() {
	i.mu.Lock()
	first := i.pushSupported
	i.pushSupported = false
	i.mu.Unlock()
	if first {
		i.logger.Info("ledger endpoint has no push support, using poll only")
	}
}
