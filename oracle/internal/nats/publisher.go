package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vims-labs/claim-oracle/common/messaging"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

// Publisher publishes oracle events to NATS subjects.
type Publisher struct {
	client messaging.Publisher
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(client messaging.Publisher) *Publisher {
	return &Publisher{client: client}
}

// PublishDecisionCommitted announces a committed decision.
func (p *Publisher) PublishDecisionCommitted(ctx context.Context, d models.Decision, source models.Source, txHash string, block uint64) error {
	return p.publish(ctx, messaging.SubjectClaimsDecisionsCommitted, &DecisionCommittedEvent{
		EventID:      newEventID(),
		ClaimID:      d.ClaimID,
		Status:       d.Status().String(),
		Severity:     d.Severity,
		Approved:     d.Approved,
		Verified:     d.Verified,
		PayoutAmount: d.PayoutAmount,
		TxHash:       txHash,
		BlockNumber:  block,
		Source:       string(source),
		CommittedAt:  time.Now().UTC(),
	})
}

// PublishLedgerWriteFailed raises an alert for a decision that never reached the ledger.
func (p *Publisher) PublishLedgerWriteFailed(ctx context.Context, d models.Decision, cause error) error {
	return p.publish(ctx, messaging.SubjectClaimsAlertsLedgerWriteFailed, alert(AlertKindLedgerWriteFailed, d, cause))
}

// PublishSyncFailed raises an alert for a final state the system of record did not accept.
func (p *Publisher) PublishSyncFailed(ctx context.Context, d models.Decision, cause error) error {
	return p.publish(ctx, messaging.SubjectClaimsAlertsSyncFailed, alert(AlertKindSyncFailed, d, cause))
}

func alert(kind string, d models.Decision, cause error) *AlertEvent {
	e := &AlertEvent{
		EventID:      newEventID(),
		ClaimID:      d.ClaimID,
		Kind:         kind,
		Approved:     d.Approved,
		PayoutAmount: d.PayoutAmount,
		OccurredAt:   time.Now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// publish marshals data to JSON and publishes to the specified subject.
func (p *Publisher) publish(ctx context.Context, subject string, data interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.client.Publish(ctx, subject, bytes)
}
