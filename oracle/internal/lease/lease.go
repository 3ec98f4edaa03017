// Package lease coordinates claim evaluation across replicas. A replica
// evaluates a claim only while it holds the claim's lease; the in-process
// dedup gate still applies underneath.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vims-labs/claim-oracle/common/logging"
)

const (
	keyPrefix  = "claim-oracle:lease:"
	DefaultTTL = 5 * time.Minute
)

// releaseScript deletes the lease only if this replica still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Manager hands out claim leases backed by Redis.
type Manager struct {
	redis  *redis.Client
	owner  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewManager creates a lease manager. owner identifies this replica.
func NewManager(client *redis.Client, owner string, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{redis: client, owner: owner, ttl: ttl, logger: logger}
}

// IsEnabled reports whether leases are enforced.
func (m *Manager) IsEnabled() bool {
	return m != nil && m.redis != nil
}

// Acquire tries to take the lease for claimID. When Redis is unreachable it
// fails open: the claim proceeds and the ledger's own transition check
// catches a duplicate. The returned release func is always non-nil.
func (m *Manager) Acquire(ctx context.Context, claimID string) (release func(), acquired bool) {
	noop := func() {}
	if !m.IsEnabled() {
		return noop, true
	}

	key := keyPrefix + claimID
	ok, err := m.redis.SetNX(ctx, key, m.owner, m.ttl).Result()
	if err != nil {
		m.logger.Warn("lease store unavailable, proceeding without lease",
			logging.ClaimID(claimID), logging.Error(err))
		return noop, true
	}
	if !ok {
		holder, _ := m.Holder(ctx, claimID)
		m.logger.Info("claim leased by another replica", logging.ClaimID(claimID),
			slog.String("holder", holder))
		return noop, false
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, m.redis, []string{key}, m.owner).Err(); err != nil {
			m.logger.Warn("failed to release claim lease", logging.ClaimID(claimID), logging.Error(err))
		}
	}, true
}

// Holder returns the owner of the claim's lease, or "" when unleased.
func (m *Manager) Holder(ctx context.Context, claimID string) (string, error) {
	if !m.IsEnabled() {
		return "", nil
	}
	v, err := m.redis.Get(ctx, keyPrefix+claimID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Ping checks Redis connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.IsEnabled() {
		return nil
	}
	return m.redis.Ping(ctx).Err()
}
