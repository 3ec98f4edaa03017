package ledger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/ledger/ledgertest"
)

func fastConfig() ledger.Config {
	return ledger.Config{
		Endpoint:          "ws://ledger.test",
		BootstrapAttempts: 3,
		BootstrapSpacing:  time.Millisecond,
		LogEvery:          3,
		ReconnectInterval: 5 * time.Millisecond,
		MaxHeightFailures: 3,
		CallTimeout:       time.Second,
		WriteTimeout:      time.Second,
	}
}

func TestManager_BootstrapRetriesUntilConnected(t *testing.T) {
	fake := ledgertest.New()
	fake.FailDials = 2
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())

	require.True(t, m.Bootstrap(context.Background()))
	assert.Equal(t, ledger.StateConnected, m.State())
	assert.Equal(t, 3, fake.Dials())
	assert.Equal(t, uint64(1), m.Generation())

	st := m.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, "connected", st.State)
	assert.Empty(t, st.LastError)
	assert.False(t, st.ConnectedAt.IsZero())
}

func TestManager_BootstrapExhaustedStaysDegraded(t *testing.T) {
	fake := ledgertest.New()
	fake.FailDials = 100
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())

	assert.False(t, m.Bootstrap(context.Background()))
	assert.Equal(t, ledger.StateDisconnected, m.State())
	assert.Equal(t, 3, fake.Dials())
	assert.Equal(t, "connection refused", m.Status().LastError)

	_, err := m.CurrentHeight(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
	_, err = m.QueryEvents(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
	_, err = m.EvaluateClaim(context.Background(), ledger.EvaluateRequest{ClaimID: "c"})
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
	_, err = m.GetClaim(context.Background(), "c")
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
	_, err = m.Subscribe(context.Background(), make(chan ledger.Event))
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
}

func TestStatus_ConnectedAtOnlyWhileConnected(t *testing.T) {
	fake := ledgertest.New()
	fake.FailDials = 100
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())
	require.False(t, m.Bootstrap(context.Background()))

	raw, err := json.Marshal(m.Status())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "connected_at")

	fake.FailDials = 0
	require.True(t, m.Bootstrap(context.Background()))
	raw, err = json.Marshal(m.Status())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "connected_at")
}

func TestManager_StartReconnectsInBackground(t *testing.T) {
	fake := ledgertest.New()
	fake.FailDials = 5
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	assert.Eventually(t, m.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 6, fake.Dials())
}

func TestManager_DemotesAfterConsecutiveHeightFailures(t *testing.T) {
	fake := ledgertest.New()
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)

	fake.SetHeightErr(errors.New("timeout"))
	for i := 0; i < 2; i++ {
		_, err := m.CurrentHeight(ctx)
		require.Error(t, err)
		assert.True(t, m.Connected(), "still connected after %d failures", i+1)
	}
	_, err := m.CurrentHeight(ctx)
	require.Error(t, err)
	assert.False(t, m.Connected())
	assert.GreaterOrEqual(t, fake.Closes(), 1)

	fake.SetHeightErr(nil)
	assert.Eventually(t, m.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), m.Generation())
}

func TestManager_HeightSuccessResetsFailureCount(t *testing.T) {
	fake := ledgertest.New()
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())
	require.True(t, m.Bootstrap(context.Background()))

	fake.SetHeightErr(errors.New("timeout"))
	for i := 0; i < 2; i++ {
		_, _ = m.CurrentHeight(context.Background())
	}
	fake.SetHeightErr(nil)
	h, err := m.CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h)

	fake.SetHeightErr(errors.New("timeout"))
	for i := 0; i < 2; i++ {
		_, _ = m.CurrentHeight(context.Background())
	}
	assert.True(t, m.Connected())
}

func TestManager_RunReconnectNoopWhenConnected(t *testing.T) {
	fake := ledgertest.New()
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())
	require.True(t, m.Bootstrap(context.Background()))

	done := make(chan struct{})
	go func() {
		m.RunReconnect(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunReconnect should return immediately when connected")
	}
	assert.Equal(t, 1, fake.Dials())
}

func TestManager_QueryEventsEmptyRange(t *testing.T) {
	fake := ledgertest.New()
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())
	require.True(t, m.Bootstrap(context.Background()))

	fake.Submit("claim-1", "policy-1", "user-1", 50)
	events, err := m.QueryEvents(context.Background(), 5, 4)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = m.QueryEvents(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "claim-1", events[0].Fields["claimId"])
}

func TestManager_CloseDisconnects(t *testing.T) {
	fake := ledgertest.New()
	m := ledger.NewManager(fake.Dialer(), fastConfig(), logging.Discard())
	require.True(t, m.Bootstrap(context.Background()))

	m.Close()
	assert.Equal(t, ledger.StateDisconnected, m.State())
	assert.Equal(t, 1, fake.Closes())
}

func TestManager_BootstrapLogsEveryThirdAttemptAndLast(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fake := ledgertest.New()
	fake.FailDials = 100
	cfg := fastConfig()
	cfg.BootstrapAttempts = 10
	m := ledger.NewManager(fake.Dialer(), cfg, logger)

	require.False(t, m.Bootstrap(context.Background()))
	assert.Equal(t, 10, fake.Dials())

	var attempts []int
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		assert.Equal(t, 1, bytes.Count(line, []byte(`"component"`)), string(line))
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		if rec["level"] != "WARN" {
			continue
		}
		assert.Equal(t, "ledger", rec["component"])
		attempts = append(attempts, int(rec["attempt"].(float64)))
	}
	assert.Equal(t, []int{3, 6, 9, 10}, attempts)
}
