package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// DefaultUnreconciledLimit caps Unreconciled when the caller passes zero.
const DefaultUnreconciledLimit = 100

// PostgresJournal implements Journal using PostgreSQL.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal connects and verifies the pool.
func NewPostgresJournal(ctx context.Context, connString string) (*PostgresJournal, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &PostgresJournal{pool: pool}, nil
}

// Migrate applies the SQL migrations found at sourceURL (e.g. file://migrations).
// It returns the resulting schema version.
func Migrate(sourceURL, connString string) (uint, error) {
	m, err := migrate.New(sourceURL, connString)
	if err != nil {
		return 0, fmt.Errorf("initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	return version, nil
}

const entryColumns = `id, claim_id, source, severity, approved, verified, payout_amount,
	verification_called, reason, state, tx_hash, error, created_at, updated_at`

func (j *PostgresJournal) Record(ctx context.Context, e Entry) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO claim_decisions (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.ClaimID, string(e.Source), e.Severity, e.Approved, e.Verified, e.PayoutAmount,
		e.VerificationCalled, e.Reason, string(e.State), e.TxHash, e.Error, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record decision for %s: %w", e.ClaimID, err)
	}
	return nil
}

func (j *PostgresJournal) Transition(ctx context.Context, id uuid.UUID, t Transition) error {
	tag, err := j.pool.Exec(ctx, `
		UPDATE claim_decisions
		SET state = $2,
		    tx_hash = CASE WHEN $3 = '' THEN tx_hash ELSE $3 END,
		    error = $4,
		    updated_at = NOW()
		WHERE id = $1`,
		id, string(t.State), t.TxHash, t.Error,
	)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", id, t.State, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (j *PostgresJournal) Unreconciled(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultUnreconciledLimit
	}
	rows, err := j.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM claim_decisions
		WHERE state IN ('commit_failed', 'sync_failed')
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled: %w", err)
	}
	return collectEntries(rows)
}

func (j *PostgresJournal) History(ctx context.Context, claimID string) ([]Entry, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM claim_decisions
		WHERE claim_id = $1
		ORDER BY created_at ASC`, claimID)
	if err != nil {
		return nil, fmt.Errorf("claim history: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e             Entry
			source, state string
		)
		err := row.Scan(&e.ID, &e.ClaimID, &source, &e.Severity, &e.Approved, &e.Verified,
			&e.PayoutAmount, &e.VerificationCalled, &e.Reason, &state, &e.TxHash, &e.Error,
			&e.CreatedAt, &e.UpdatedAt)
		e.Source = models.Source(source)
		e.State = State(state)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan journal rows: %w", err)
	}
	return entries, nil
}

// Ping checks database connectivity.
func (j *PostgresJournal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

// Close closes the connection pool.
func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}
