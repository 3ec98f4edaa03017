package ingestion_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/oracle/internal/ingestion"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger/ledgertest"
	"github.com/vims-labs/claim-oracle/oracle/internal/metrics"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.ClaimEvent
	// gate, when set, blocks Process until closed.
	gate chan struct{}
}

func (r *recorder) Process(ctx context.Context, ev models.ClaimEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.ClaimID == id {
			n++
		}
	}
	return n
}

func (r *recorder) all() []models.ClaimEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ClaimEvent(nil), r.events...)
}

func connectedManager(t *testing.T, fake *ledgertest.Fake) *ledger.Manager {
	t.Helper()
	m := ledger.NewManager(fake.Dialer(), ledger.Config{
		BootstrapAttempts: 1,
		BootstrapSpacing:  time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
	}, logging.Discard())
	require.True(t, m.Bootstrap(context.Background()))
	return m
}

func TestScan_FirstScanStartsAtHead(t *testing.T) {
	fake := ledgertest.New()
	fake.Submit("old-claim", "p", "u", 10)  // block 2
	fake.Submit("head-claim", "p", "u", 10) // block 3
	rec := &recorder{}
	ing := ingestion.New(connectedManager(t, fake), rec, ingestion.Config{}, logging.Discard())

	ing.Scan(context.Background())
	require.NoError(t, ing.Stop(context.Background()))

	assert.Equal(t, 0, rec.count("old-claim"))
	assert.Equal(t, 1, rec.count("head-claim"))
	assert.Equal(t, uint64(3), ing.Stats().LastScanned)
}

func TestScan_StartHeightBackfills(t *testing.T) {
	fake := ledgertest.New()
	fake.Submit("claim-a", "p", "u", 10) // block 2
	fake.Submit("claim-b", "p", "u", 10) // block 3
	rec := &recorder{}
	ing := ingestion.New(connectedManager(t, fake), rec, ingestion.Config{StartHeight: 2}, logging.Discard())

	ing.Scan(context.Background())
	fake.Submit("claim-c", "p", "u", 10) // block 4
	ing.Scan(context.Background())
	require.NoError(t, ing.Stop(context.Background()))

	for _, id := range []string{"claim-a", "claim-b", "claim-c"} {
		assert.Equal(t, 1, rec.count(id), id)
	}
	for _, ev := range rec.all() {
		assert.Equal(t, models.SourcePoll, ev.Source)
	}
}

// stubLedger scripts height and query results for cursor tests.
type stubLedger struct {
	mu       sync.Mutex
	height   uint64
	queryErr error
	queries  [][2]uint64
}

func (s *stubLedger) Connected() bool     { return true }
func (s *stubLedger) Generation() uint64  { return 1 }
func (s *stubLedger) setHeight(h uint64)  { s.mu.Lock(); s.height = h; s.mu.Unlock() }
func (s *stubLedger) setQueryErr(e error) { s.mu.Lock(); s.queryErr = e; s.mu.Unlock() }

func (s *stubLedger) CurrentHeight(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, nil
}

func (s *stubLedger) QueryEvents(ctx context.Context, from, to uint64) ([]ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, [2]uint64{from, to})
	return nil, s.queryErr
}

func (s *stubLedger) Subscribe(ctx context.Context, sink chan<- ledger.Event) (ledger.Subscription, error) {
	return nil, ledger.ErrPushUnsupported
}

func TestScan_CursorAdvancesPastFailedRange(t *testing.T) {
	stub := &stubLedger{height: 10}
	ing := ingestion.New(stub, &recorder{}, ingestion.Config{StartHeight: 5}, logging.Discard())

	skipped := testutil.ToFloat64(metrics.SkippedBlocks)
	stub.setQueryErr(errors.New("rpc timeout"))
	ing.Scan(context.Background())
	assert.Equal(t, uint64(10), ing.Stats().LastScanned)
	assert.Equal(t, skipped+6, testutil.ToFloat64(metrics.SkippedBlocks))

	stub.setQueryErr(nil)
	ing.Scan(context.Background()) // no new blocks
	stub.setHeight(12)
	ing.Scan(context.Background())

	assert.Equal(t, [][2]uint64{{5, 10}, {11, 12}}, stub.queries)
}

func TestPushAndPollDeliverSameClaimOnce(t *testing.T) {
	fake := ledgertest.New()
	rec := &recorder{}
	ing := ingestion.New(connectedManager(t, fake), rec,
		ingestion.Config{PollInterval: 10 * time.Millisecond, StartHeight: 1}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ing.Start(ctx)
	require.Eventually(t, func() bool { return fake.Subscribers() == 1 }, time.Second, time.Millisecond)
	assert.True(t, ing.Stats().PushActive)

	fake.Submit("claim-dup", "p", "u", 70)
	require.Eventually(t, func() bool { return rec.count("claim-dup") == 1 }, time.Second, time.Millisecond)

	// Let the poll path cover the same block.
	require.Eventually(t, func() bool { return ing.Stats().LastScanned >= 2 }, time.Second, time.Millisecond)
	ing.Scan(ctx)

	require.NoError(t, ing.Stop(context.Background()))
	assert.Equal(t, 1, rec.count("claim-dup"))
}

func TestPushResubscribesAfterStreamError(t *testing.T) {
	fake := ledgertest.New()
	rec := &recorder{}
	ing := ingestion.New(connectedManager(t, fake), rec,
		ingestion.Config{PollInterval: 10 * time.Millisecond}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ing.Start(ctx)
	require.Eventually(t, func() bool { return fake.Subscribers() == 1 }, time.Second, time.Millisecond)

	fake.DropSubscriptions(errors.New("websocket closed"))
	require.Eventually(t, func() bool { return fake.Subscribers() == 1 && ing.Stats().PushActive },
		time.Second, time.Millisecond)

	fake.Submit("after-drop", "p", "u", 30)
	require.Eventually(t, func() bool { return rec.count("after-drop") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, ing.Stop(context.Background()))
}

func TestPushUnsupportedFallsBackToPoll(t *testing.T) {
	fake := ledgertest.New()
	fake.PushUnsupported = true
	rec := &recorder{}
	ing := ingestion.New(connectedManager(t, fake), rec,
		ingestion.Config{PollInterval: 10 * time.Millisecond, StartHeight: 1}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ing.Start(ctx)

	fake.Submit("poll-only", "p", "u", 30)
	require.Eventually(t, func() bool { return rec.count("poll-only") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, ing.Stop(context.Background()))

	st := ing.Stats()
	assert.False(t, st.PushActive)
	assert.False(t, st.PushSupported)
	assert.Equal(t, models.SourcePoll, rec.all()[0].Source)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	stub := &eventsLedger{events: []ledger.Event{
		{BlockNumber: 1, Fields: map[string]any{"claimId": ""}},
		{BlockNumber: 1, Fields: map[string]any{"claimId": "good-1"}},
		{BlockNumber: 1, DecodeError: errors.New("bad abi")},
	}}
	rec := &recorder{}
	ing := ingestion.New(stub, rec, ingestion.Config{StartHeight: 1}, logging.Discard())

	ing.Scan(context.Background())
	require.NoError(t, ing.Stop(context.Background()))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "good-1", events[0].ClaimID)
}

type eventsLedger struct {
	stubLedger
	events []ledger.Event
}

func (e *eventsLedger) CurrentHeight(ctx context.Context) (uint64, error) { return 1, nil }

func (e *eventsLedger) QueryEvents(ctx context.Context, from, to uint64) ([]ledger.Event, error) {
	return e.events, nil
}

func TestTrigger(t *testing.T) {
	gate := make(chan struct{})
	rec := &recorder{gate: gate}
	ing := ingestion.New(&stubLedger{}, rec, ingestion.Config{}, logging.Discard())

	require.NoError(t, ing.Trigger("claim-9"))
	require.Eventually(t, func() bool { return rec.count("claim-9") == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, ing.Trigger("claim-9"), ingestion.ErrInFlight)
	assert.Equal(t, 1, ing.Stats().InFlight)

	// A ledger delivery for the triggered claim is deduplicated.
	assert.False(t, ing.Submit(models.ClaimEvent{ClaimID: "claim-9", Source: models.SourcePush}))

	close(gate)
	require.Eventually(t, func() bool { return ing.Stats().InFlight == 0 }, time.Second, time.Millisecond)

	// Once finished, an operator may force it again.
	require.NoError(t, ing.Trigger("claim-9"))
	require.NoError(t, ing.Stop(context.Background()))

	events := rec.all()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.True(t, ev.Force)
		assert.Equal(t, models.SourceTrigger, ev.Source)
	}
}

func TestTrigger_RejectsInvalidID(t *testing.T) {
	ing := ingestion.New(&stubLedger{}, &recorder{}, ingestion.Config{}, logging.Discard())
	assert.ErrorIs(t, ing.Trigger(" "), ingestion.ErrMalformedEvent)
}

func TestStopTimesOutOnStuckPipeline(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ing := ingestion.New(&stubLedger{}, &recorder{gate: gate}, ingestion.Config{}, logging.Discard())
	require.True(t, ing.Submit(models.ClaimEvent{ClaimID: "stuck"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ing.Stop(ctx), context.DeadlineExceeded)
}

// miningProcessor simulates a pipeline waiting on a mined receipt.
type miningProcessor struct {
	wait time.Duration
	done chan error
}

func (m *miningProcessor) Process(ctx context.Context, ev models.ClaimEvent) {
	select {
	case <-time.After(m.wait):
		m.done <- nil
	case <-ctx.Done():
		m.done <- ctx.Err()
	}
}

func TestShutdownDrainsInFlightPipelines(t *testing.T) {
	proc := &miningProcessor{wait: 100 * time.Millisecond, done: make(chan error, 1)}
	ing := ingestion.New(&stubLedger{}, proc, ingestion.Config{PollInterval: time.Hour}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	ing.Start(ctx)
	require.NoError(t, ing.Trigger("claim-x"))
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, ing.Stop(stopCtx))
	assert.NoError(t, <-proc.done)
}

func TestStopCancelsPipelinesAfterGracePeriod(t *testing.T) {
	proc := &miningProcessor{wait: time.Minute, done: make(chan error, 1)}
	ing := ingestion.New(&stubLedger{}, proc, ingestion.Config{PollInterval: time.Hour}, logging.Discard())
	ing.Start(context.Background())
	require.NoError(t, ing.Trigger("claim-y"))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stopCancel()
	assert.ErrorIs(t, ing.Stop(stopCtx), context.DeadlineExceeded)

	select {
	case err := <-proc.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not cancelled after the grace period")
	}
}

func TestTrigger_LogsReprocessOfSeenClaim(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ing := ingestion.New(connectedManager(t, ledgertest.New()), &recorder{}, ingestion.Config{}, logger)

	require.NoError(t, ing.Trigger("claim-r"))
	require.Eventually(t, func() bool { return ing.Stats().InFlight == 0 }, time.Second, time.Millisecond)
	require.NoError(t, ing.Trigger("claim-r"))
	require.NoError(t, ing.Stop(context.Background()))

	var flags []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "manual evaluation triggered") {
			continue
		}
		switch {
		case strings.Contains(line, `"reprocess":true`):
			flags = append(flags, "true")
		case strings.Contains(line, `"reprocess":false`):
			flags = append(flags, "false")
		}
	}
	assert.Equal(t, []string{"false", "true"}, flags)
}
