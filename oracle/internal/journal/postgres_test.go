package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// setupTestDatabase starts a PostgreSQL container and applies the migrations.
func setupTestDatabase(t *testing.T) *PostgresJournal {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("oracle_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrations, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	version, err := Migrate(fmt.Sprintf("file://%s", migrations), connStr)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	j, err := NewPostgresJournal(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestPostgresJournal(t *testing.T) {
	j := setupTestDatabase(t)
	ctx := context.Background()

	d := fakeDecision()
	entry, err := NewEntry(d, models.SourceTrigger)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, entry))

	require.NoError(t, j.Transition(ctx, entry.ID, Transition{State: StateCommitted, TxHash: "0xfeed"}))
	require.NoError(t, j.Transition(ctx, entry.ID, Transition{State: StateSyncFailed, Error: "records unavailable"}))

	unreconciled, err := j.Unreconciled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unreconciled, 1)
	got := unreconciled[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, d.ClaimID, got.ClaimID)
	assert.Equal(t, models.SourceTrigger, got.Source)
	assert.Equal(t, d.PayoutAmount, got.PayoutAmount)
	assert.Equal(t, StateSyncFailed, got.State)
	assert.Equal(t, "0xfeed", got.TxHash)
	assert.Equal(t, "records unavailable", got.Error)

	require.NoError(t, j.Transition(ctx, entry.ID, Transition{State: StateSynced}))
	unreconciled, err = j.Unreconciled(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unreconciled)

	history, err := j.History(ctx, d.ClaimID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	missing, err := NewEntry(d, models.SourcePush)
	require.NoError(t, err)
	assert.ErrorIs(t, j.Transition(ctx, missing.ID, Transition{State: StateSynced}), ErrNotFound)
	assert.NoError(t, j.Ping(ctx))
}
