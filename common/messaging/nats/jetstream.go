package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/vims-labs/claim-oracle/common/messaging"
)

// JetStreamClient persists published messages in a JetStream stream.
// Subscriptions still use core NATS.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// ClaimAlertsStream keeps operator alerts until they age out, so an alert
// raised while no consumer is attached is not lost.
var ClaimAlertsStream = StreamConfig{
	Name:      "CLAIM_ALERTS",
	Subjects:  messaging.AlertSubjects(),
	MaxAge:    7 * 24 * time.Hour,
	MaxMsgs:   100000,
	Retention: jetstream.LimitsPolicy,
	Storage:   jetstream.FileStorage,
}

// NewJetStreamClient connects and creates a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{Client: client, js: js}, nil
}

// EnsureStream creates or updates a stream.
func (c *JetStreamClient) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Publish publishes through JetStream and waits for the stream ack.
// Subjects not captured by any stream fail with jetstream.ErrNoStreamResponse,
// so those fall back to core NATS.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		if errors.Is(err, jetstream.ErrNoStreamResponse) {
			return c.Client.Publish(ctx, subject, data)
		}
		return fmt.Errorf("jetstream publish %s: %w", subject, err)
	}
	return nil
}
