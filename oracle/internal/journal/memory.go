package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryJournal keeps entries in process memory. It is used when no
// database is configured; entries do not survive a restart.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// NewMemoryJournal returns an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[uuid.UUID]*Entry)}
}

func (j *MemoryJournal) Record(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.ID] = &e
	return nil
}

func (j *MemoryJournal) Transition(ctx context.Context, id uuid.UUID, t Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.State = t.State
	if t.TxHash != "" {
		e.TxHash = t.TxHash
	}
	e.Error = t.Error
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (j *MemoryJournal) Unreconciled(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultUnreconciledLimit
	}
	out := j.filter(func(e *Entry) bool { return e.State.NeedsAttention() })
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *MemoryJournal) History(ctx context.Context, claimID string) ([]Entry, error) {
	out := j.filter(func(e *Entry) bool { return e.ClaimID == claimID })
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (j *MemoryJournal) filter(keep func(*Entry) bool) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Entry
	for _, e := range j.entries {
		if keep(e) {
			out = append(out, *e)
		}
	}
	return out
}

func (j *MemoryJournal) Ping(ctx context.Context) error { return nil }

func (j *MemoryJournal) Close() error { return nil }
