// Package messaging defines the broker abstraction the oracle publishes
// decisions and alerts through, independent of the concrete broker.
package messaging

import (
	"context"
	"time"
)

// Message is a message received from or sent to a broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw payload.
	Data []byte

	// Reply is an optional subject for request/reply.
	Reply string

	// Metadata carries message headers.
	Metadata map[string]string

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// MessageHandler processes a received message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription is an active subscription to a subject.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject. Fire-and-forget for core NATS,
	// acknowledged when backed by a persistent stream.
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subscriber subscribes to subjects.
type Subscriber interface {
	// QueueSubscribe load-balances messages across members of queue.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)
}

// Client combines Publisher and Subscriber with connection management.
type Client interface {
	Publisher
	Subscriber

	// Drain closes the connection after in-flight messages complete.
	Drain() error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool

	Close() error
}
