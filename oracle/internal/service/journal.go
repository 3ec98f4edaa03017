package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/oracle/internal/journal"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

type journalID = uuid.UUID

// journalDecision writes the pending entry. Journal errors never block the
// commit; they only cost the reconciliation trail for this run.
func (p *Pipeline) journalDecision(ctx context.Context, d models.Decision, source models.Source, log *slog.Logger) (journalID, bool) {
	if p.journal == nil {
		return uuid.Nil, false
	}
	entry, err := journal.NewEntry(d, source)
	if err == nil {
		err = p.journal.Record(ctx, entry)
	}
	if err != nil {
		log.Warn("failed to journal decision", logging.Error(err))
		return uuid.Nil, false
	}
	return entry.ID, true
}

func (p *Pipeline) transition(ctx context.Context, id journalID, journaled bool, t journal.Transition, log *slog.Logger) {
	if !journaled {
		return
	}
	if err := p.journal.Transition(ctx, id, t); err != nil {
		log.Warn("failed to update journal entry", slog.String("state", string(t.State)), logging.Error(err))
	}
}
