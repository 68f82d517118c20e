// Package bus defines the event bus port (interface).
package bus

import (
	"context"
	"time"
)

// Entry is a single message fetched through a consumer group. It stays
// pending on the bus until Ack is called; an unacknowledged entry is
// redelivered to the group.
type Entry struct {
	// ID is the bus-assigned monotonic identity of the entry.
	ID string
	// Data is the envelope body.
	Data []byte
	// Deliveries is how many times the bus has handed this entry out,
	// including the current delivery.
	Deliveries uint64
	// AckFn acknowledges the entry. Set by the adapter.
	AckFn func() error
}

// Ack marks the entry as processed.
func (e *Entry) Ack() error {
	if e.AckFn == nil {
		return nil
	}
	return e.AckFn()
}

// Stream is the port interface for the event bus.
type Stream interface {
	// Publish appends data to the given topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// EnsureGroup creates the durable consumer group on the topic, starting
	// at the earliest available entry. An existing group is not an error.
	EnsureGroup(ctx context.Context, topic, group string) error

	// Fetch returns up to count pending entries for the group, waiting at
	// most wait for the first one. An empty result is not an error.
	Fetch(ctx context.Context, topic, group string, count int, wait time.Duration) ([]*Entry, error)

	// IsConnected reports whether the bus connection is currently up.
	IsConnected() bool

	// Close shuts down the bus connection.
	Close() error
}
