// Package ledgertest provides an in-memory ledger Backend for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vims-labs/claim-oracle/oracle/internal/ledger"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// Fake is a scriptable ledger. It enforces the contract's status
// transition rules so duplicate evaluations fail the way they do on chain.
type Fake struct {
	mu sync.Mutex

	height      uint64
	events      []ledger.Event
	claims      map[string]*models.LedgerClaim
	evaluations []ledger.EvaluateRequest
	subs        []*fakeSub

	// FailDials makes the next N dial attempts fail.
	FailDials int
	// HeightErr is returned from BlockNumber while set.
	HeightErr error
	// EvaluateErr, when set, is returned from EvaluateClaim instead of applying it.
	EvaluateErr error
	// PushUnsupported makes Subscribe return ledger.ErrPushUnsupported.
	PushUnsupported bool

	dials  int
	closes int
}

// New returns an empty Fake at height 1.
func New() *Fake {
	return &Fake{height: 1, claims: make(map[string]*models.LedgerClaim)}
}

// Dialer returns a ledger.Dialer handing out this Fake.
func (f *Fake) Dialer() ledger.Dialer {
	return func(ctx context.Context) (ledger.Backend, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.dials++
		if f.FailDials > 0 {
			f.FailDials--
			return nil, errors.New("connection refused")
		}
		return f, nil
	}
}

// Submit records a claim, mines it into a new block and pushes the
// ClaimSubmitted event to live subscribers.
func (f *Fake) Submit(claimID, policyID, userID string, severity int) ledger.Event {
	f.mu.Lock()
	f.height++
	now := time.Now().UTC().Truncate(time.Second)
	f.claims[claimID] = &models.LedgerClaim{
		ClaimID:            claimID,
		PolicyID:           policyID,
		UserID:             userID,
		EvidenceReferences: []string{},
		Severity:           severity,
		Status:             models.StatusSubmitted,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}
	ev := ledger.Event{
		Name:        ledger.EventClaimSubmitted,
		BlockNumber: f.height,
		TxHash:      fmt.Sprintf("0x%064x", f.height),
		Fields: map[string]any{
			"claimId":            claimID,
			"policyId":           policyID,
			"userId":             userID,
			"description":        "",
			"evidenceReferences": []string{},
			"reportReference":    "",
			"severity":           big.NewInt(int64(severity)),
			"timestamp":          big.NewInt(now.Unix()),
		},
	}
	f.events = append(f.events, ev)
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
	return ev
}

// SetHeight moves the chain head.
func (f *Fake) SetHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

// SetHeightErr makes BlockNumber fail with err until cleared with nil.
func (f *Fake) SetHeightErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HeightErr = err
}

// SetEvaluateErr makes EvaluateClaim fail with err until cleared with nil.
func (f *Fake) SetEvaluateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EvaluateErr = err
}

// SetClaim overwrites the on-ledger claim.
func (f *Fake) SetClaim(c models.LedgerClaim) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[c.ClaimID] = &c
}

// Claim returns a copy of the on-ledger claim.
func (f *Fake) Claim(id string) (models.LedgerClaim, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return models.LedgerClaim{}, false
	}
	return *c, true
}

// Evaluations returns every successful evaluateClaim call.
func (f *Fake) Evaluations() []ledger.EvaluateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.EvaluateRequest(nil), f.evaluations...)
}

// Dials returns the number of dial attempts.
func (f *Fake) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Closes returns how often the session was closed.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// DropSubscriptions ends every live subscription with err.
func (f *Fake) DropSubscriptions(err error) {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

func (f *Fake) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HeightErr != nil {
		return 0, f.HeightErr
	}
	return f.height, nil
}

func (f *Fake) QueryEvents(ctx context.Context, from, to uint64) ([]ledger.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Event
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *Fake) Subscribe(ctx context.Context, sink chan<- ledger.Event) (ledger.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushUnsupported {
		return nil, ledger.ErrPushUnsupported
	}
	s := &fakeSub{owner: f, sink: sink, quit: make(chan struct{}), errc: make(chan error, 1)}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *Fake) EvaluateClaim(ctx context.Context, req ledger.EvaluateRequest) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EvaluateErr != nil {
		return nil, f.EvaluateErr
	}
	c, ok := f.claims[req.ClaimID]
	if !ok {
		return nil, fmt.Errorf("%w: execution reverted: claim not found", ledger.ErrReverted)
	}
	if !c.Status.Evaluable() {
		return nil, fmt.Errorf("%w: execution reverted: claim already evaluated", ledger.ErrAlreadyEvaluated)
	}
	f.height++
	c.Status = models.StatusFor(req.Approved)
	c.Verified = req.Verified
	c.PayoutAmount = req.PayoutAmount
	c.UpdatedAt = time.Now().UTC()
	f.evaluations = append(f.evaluations, req)
	return &ledger.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", f.height),
		BlockNumber: f.height,
		GasUsed:     21000,
	}, nil
}

func (f *Fake) GetClaim(ctx context.Context, claimID string) (*models.LedgerClaim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[claimID]
	if !ok {
		return nil, ledger.ErrClaimNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *Fake) remove(s *fakeSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, other := range f.subs {
		if other == s {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

type fakeSub struct {
	owner *Fake
	sink  chan<- ledger.Event
	quit  chan struct{}
	once  sync.Once
	errc  chan error
}

func (s *fakeSub) deliver(ev ledger.Event) {
	select {
	case s.sink <- ev:
	case <-s.quit:
	}
}

func (s *fakeSub) fail(err error) {
	s.once.Do(func() {
		close(s.quit)
		s.errc <- err
	})
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		close(s.errc)
	})
	s.owner.remove(s)
}

func (s *fakeSub) Err() <-chan error { return s.errc }
