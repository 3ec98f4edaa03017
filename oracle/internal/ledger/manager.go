package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// State is the connection state of the Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config controls connection supervision and call bounds.
type Config struct {
	// Endpoint is reported in status output only.
	Endpoint string

	BootstrapAttempts int
	BootstrapSpacing  time.Duration
	// LogEvery throttles bootstrap failure logs to every Nth attempt.
	LogEvery int

	ReconnectInterval time.Duration
	// MaxHeightFailures consecutive CurrentHeight failures demote a
	// connected session back to disconnected and restart reconnection.
	MaxHeightFailures int

	CallTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the stock supervision settings.
func DefaultConfig() Config {
	return Config{
		BootstrapAttempts: 10,
		BootstrapSpacing:  2 * time.Second,
		LogEvery:          3,
		ReconnectInterval: 30 * time.Second,
		MaxHeightFailures: 3,
		CallTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BootstrapAttempts <= 0 {
		c.BootstrapAttempts = d.BootstrapAttempts
	}
	if c.BootstrapSpacing <= 0 {
		c.BootstrapSpacing = d.BootstrapSpacing
	}
	if c.LogEvery <= 0 {
		c.LogEvery = d.LogEvery
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxHeightFailures <= 0 {
		c.MaxHeightFailures = d.MaxHeightFailures
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// Status is a snapshot of the connection for health reporting.
type Status struct {
	State       string    `json:"state"`
	Connected   bool      `json:"connected"`
	Endpoint    string    `json:"endpoint"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
}

// Manager supervises the ledger session. All ledger traffic goes through
// it; other components never see the Backend directly.
type Manager struct {
	dial   Dialer
	cfg    Config
	logger *slog.Logger

	mu             sync.RWMutex
	state          State
	backend        Backend
	generation     uint64
	attempts       int
	lastErr        error
	connectedAt    time.Time
	heightFailures int
	reconnecting   bool
	runCtx         context.Context
}

// NewManager creates a Manager in the disconnected state.
func NewManager(dial Dialer, cfg Config, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dial:   dial,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ledger")),
		runCtx: context.Background(),
	}
}

// Start bootstraps in the background and keeps reconnecting until the
// session is up. It returns immediately so the caller can serve health
// checks while the ledger is unreachable.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.reconnecting = true
	m.mu.Unlock()

	go func() {
		if m.Bootstrap(ctx) {
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
			return
		}
		m.runReconnect(ctx)
	}()
}

// Bootstrap makes up to BootstrapAttempts connection attempts spaced by
// BootstrapSpacing. It returns false on exhaustion instead of failing.
func (m *Manager) Bootstrap(ctx context.Context) bool {
	for attempt := 1; attempt <= m.cfg.BootstrapAttempts; attempt++ {
		err := m.connectOnce(ctx)
		if err == nil {
			return true
		}

		if attempt%m.cfg.LogEvery == 0 || attempt == m.cfg.BootstrapAttempts {
			m.logger.Warn("ledger not reachable yet",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", m.cfg.BootstrapAttempts),
				slog.String("endpoint", m.cfg.Endpoint),
				slog.String("error", err.Error()))
		}

		if attempt == m.cfg.BootstrapAttempts {
			break
		}
		if !sleep(ctx, m.cfg.BootstrapSpacing) {
			return false
		}
	}

	m.logger.Error("ledger bootstrap exhausted, continuing degraded",
		slog.Int("attempts", m.cfg.BootstrapAttempts),
		slog.Duration("retry_interval", m.cfg.ReconnectInterval))
	return false
}

// RunReconnect retries on ReconnectInterval until connected or ctx ends.
// It returns immediately if the session is already up.
func (m *Manager) RunReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateConnected || m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	m.runReconnect(ctx)
}

func (m *Manager) runReconnect(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.connectOnce(ctx); err != nil {
				m.logger.Debug("ledger reconnect attempt failed", slog.String("error", err.Error()))
				continue
			}
			m.logger.Info("ledger reconnected in background", slog.String("endpoint", m.cfg.Endpoint))
			return
		}
	}
}

func (m *Manager) connectOnce(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.attempts++
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	backend, err := m.dial(dialCtx)
	if err == nil {
		// A session that cannot answer a height query is not usable.
		if _, err = backend.BlockNumber(dialCtx); err != nil {
			backend.Close()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateDisconnected
		m.lastErr = err
		return err
	}
	m.state = StateConnected
	m.backend = backend
	m.generation++
	m.lastErr = nil
	m.heightFailures = 0
	m.connectedAt = time.Now().UTC()
	m.logger.Info("ledger connected",
		slog.String("endpoint", m.cfg.Endpoint),
		slog.Uint64("generation", m.generation))
	return nil
}

// demote drops a session that stopped answering and restarts reconnection.
func (m *Manager) demote(cause error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	backend := m.backend
	m.backend = nil
	m.state = StateDisconnected
	m.lastErr = cause
	startLoop := !m.reconnecting
	m.reconnecting = true
	ctx := m.runCtx
	m.mu.Unlock()

	backend.Close()
	m.logger.Error("ledger session lost, reconnecting in background", slog.String("error", cause.Error()))
	if startLoop {
		go m.runReconnect(ctx)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether calls can currently be made.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Generation increases every time a new session is established. Holders
// of subscriptions use it to notice that they must resubscribe.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Status returns a health snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{
		State:     m.state.String(),
		Connected: m.state == StateConnected,
		Endpoint:  m.cfg.Endpoint,
		Attempts:  m.attempts,
	}
	if s.Connected {
		s.ConnectedAt = m.connectedAt
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) session() (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateConnected || m.backend == nil {
		return nil, ErrNotConnected
	}
	return m.backend, nil
}

// CurrentHeight returns the latest block number.
func (m *Manager) CurrentHeight(ctx context.Context) (uint64, error) {
	b, err := m.session()
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	height, err := b.BlockNumber(ctx)
	m.mu.Lock()
	if err != nil {
		m.heightFailures++
		failures := m.heightFailures
		m.mu.Unlock()
		if failures >= m.cfg.MaxHeightFailures {
			m.demote(fmt.Errorf("%d consecutive height queries failed: %w", failures, err))
		}
		return 0, fmt.Errorf("current height: %w", err)
	}
	m.heightFailures = 0
	m.mu.Unlock()
	return height, nil
}

// QueryEvents returns ClaimSubmitted events in [from, to].
func (m *Manager) QueryEvents(ctx context.Context, from, to uint64) ([]Event, error) {
	b, err := m.session()
	if err != nil {
		return nil, err
	}
	if from > to {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	events, err := b.QueryEvents(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query events %d..%d: %w", from, to, err)
	}
	return events, nil
}

// Subscribe streams new ClaimSubmitted events into sink.
func (m *Manager) Subscribe(ctx context.Context, sink chan<- Event) (Subscription, error) {
	b, err := m.session()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return b.Subscribe(ctx, sink)
}

// EvaluateClaim submits the evaluation and waits for it to be mined,
// bounded by WriteTimeout.
func (m *Manager) EvaluateClaim(ctx context.Context, req EvaluateRequest) (*Receipt, error) {
	b, err := m.session()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	return b.EvaluateClaim(ctx, req)
}

// GetClaim reads the on-ledger claim.
func (m *Manager) GetClaim(ctx context.Context, claimID string) (*models.LedgerClaim, error) {
	b, err := m.session()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return b.GetClaim(ctx, claimID)
}

// Close releases the session.
func (m *Manager) Close() {
	m.mu.Lock()
	backend := m.backend
	m.backend = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	if backend != nil {
		backend.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
