package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vims-labs/claim-oracle/common/logging"
	"github.com/vims-labs/claim-oracle/common/messaging"
	"github.com/vims-labs/claim-oracle/oracle/internal/ingestion"
	"github.com/vims-labs/claim-oracle/oracle/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]messaging.MessageHandler
	queue    string
	unsubbed bool
}

func (b *fakeBroker) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, published{subject, data})
	return nil
}

func (b *fakeBroker) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	if b.handlers == nil {
		b.handlers = make(map[string]messaging.MessageHandler)
	}
	b.handlers[subject] = handler
	b.queue = queue
	return &fakeSub{broker: b, subject: subject}, nil
}

type fakeSub struct {
	broker  *fakeBroker
	subject string
}

func (s *fakeSub) Unsubscribe() error { s.broker.unsubbed = true; return nil }
func (s *fakeSub) Subject() string    { return s.subject }
func (s *fakeSub) IsValid() bool      { return !s.broker.unsubbed }

func TestPublisher_DecisionCommitted(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker)
	d := models.Decision{ClaimID: "claim-1", Severity: 75, Approved: true, Verified: true, PayoutAmount: 750000}

	require.NoError(t, p.PublishDecisionCommitted(context.Background(), d, models.SourcePush, "0xabc", 12))
	require.Len(t, broker.messages, 1)
	assert.Equal(t, messaging.SubjectClaimsDecisionsCommitted, broker.messages[0].subject)

	var ev DecisionCommittedEvent
	require.NoError(t, json.Unmarshal(broker.messages[0].data, &ev))
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "claim-1", ev.ClaimID)
	assert.Equal(t, "Approved", ev.Status)
	assert.Equal(t, int64(750000), ev.PayoutAmount)
	assert.Equal(t, "0xabc", ev.TxHash)
	assert.Equal(t, uint64(12), ev.BlockNumber)
	assert.Equal(t, "push", ev.Source)
}

func TestPublisher_Alerts(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker)
	d := models.Decision{ClaimID: "claim-2"}

	require.NoError(t, p.PublishLedgerWriteFailed(context.Background(), d, errors.New("reverted")))
	require.NoError(t, p.PublishSyncFailed(context.Background(), d, errors.New("503")))
	require.Len(t, broker.messages, 2)
	assert.Equal(t, messaging.SubjectClaimsAlertsLedgerWriteFailed, broker.messages[0].subject)
	assert.Equal(t, messaging.SubjectClaimsAlertsSyncFailed, broker.messages[1].subject)

	var ev AlertEvent
	require.NoError(t, json.Unmarshal(broker.messages[1].data, &ev))
	assert.Equal(t, AlertKindSyncFailed, ev.Kind)
	assert.Equal(t, "503", ev.Error)
}

type triggerFunc func(string) error

func (f triggerFunc) Trigger(id string) error { return f(id) }

func TestHandler_Reprocess(t *testing.T) {
	broker := &fakeBroker{}
	var got []string
	trigger := triggerFunc(func(id string) error {
		got = append(got, id)
		switch id {
		case "busy":
			return ingestion.ErrInFlight
		case "bad id":
			return ingestion.ErrMalformedEvent
		}
		return nil
	})
	h := NewHandler(broker, trigger, logging.Discard())
	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, messaging.QueueOracleWorkers, broker.queue)

	handle := broker.handlers[messaging.SubjectClaimsJobsReprocess]
	require.NotNil(t, handle)

	send := func(body string) error {
		return handle(context.Background(), &messaging.Message{Data: []byte(body)})
	}
	assert.NoError(t, send(`{"claim_id":"claim-3","requested_by":"ops"}`))
	assert.NoError(t, send(`{"claim_id":"busy"}`))
	assert.ErrorIs(t, send(`{"claim_id":"bad id"}`), ingestion.ErrMalformedEvent)
	assert.Error(t, send(`not json`))
	assert.Equal(t, []string{"claim-3", "busy", "bad id"}, got)

	require.NoError(t, h.Stop())
	assert.True(t, broker.unsubbed)
}
