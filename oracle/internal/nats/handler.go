package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/common/messaging"
	"github.com/vims-labs/claim-oracle/oracle/internal/ingestion"
)

// Triggerer starts a forced evaluation.
type Triggerer interface {
	Trigger(claimID string) error
}

// Handler consumes reprocess requests for the oracle.
type Handler struct {
	client  messaging.Subscriber
	trigger Triggerer
	logger  *slog.Logger
	subs    []messaging.Subscription
}

// NewHandler creates a new NATS message handler.
func NewHandler(client messaging.Subscriber, trigger Triggerer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:  client,
		trigger: trigger,
		logger:  logger,
		subs:    make([]messaging.Subscription, 0),
	}
}

// Start begins listening for reprocess requests.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.client.QueueSubscribe(
		messaging.SubjectClaimsJobsReprocess,
		messaging.QueueOracleWorkers,
		h.handleReprocess,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to reprocess requests: %w", err)
	}
	h.subs = append(h.subs, sub)

	h.logger.Info("NATS handler started", slog.String("subject", messaging.SubjectClaimsJobsReprocess))
	return nil
}

// Stop unsubscribes from all subjects.
func (h *Handler) Stop() error {
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("failed to unsubscribe", slog.String("subject", sub.Subject()), logging.Error(err))
		}
	}
	h.subs = nil
	h.logger.Info("NATS handler stopped")
	return nil
}

func (h *Handler) handleReprocess(ctx context.Context, msg *messaging.Message) error {
	var req ReprocessRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("unmarshal reprocess request: %w", err)
	}

	err := h.trigger.Trigger(req.ClaimID)
	switch {
	case err == nil:
		h.logger.Info("reprocess request accepted", logging.ClaimID(req.ClaimID),
			slog.String("requested_by", req.RequestedBy))
		return nil
	case errors.Is(err, ingestion.ErrInFlight):
		h.logger.Info("reprocess request ignored, claim in flight", logging.ClaimID(req.ClaimID))
		return nil
	default:
		return fmt.Errorf("reprocess %q: %w", req.ClaimID, err)
	}
}
