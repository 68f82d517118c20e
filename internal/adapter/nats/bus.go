// Package nats implements the event bus port using NATS JetStream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bleam/bridge/internal/port/bus"
)

// Bus implements bus.Stream using NATS JetStream. Consumer groups map to
// durable explicit-ack consumers; unacknowledged messages are redelivered by
// the server.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string

	mu     sync.Mutex
	groups map[string]jetstream.Consumer
}

// Connect establishes a connection to NATS and ensures the bridge stream
// exists with the given subjects.
func Connect(ctx context.Context, url, stream string, subjects []string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: subjects,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Bus{
		nc:     nc,
		js:     js,
		stream: stream,
		groups: make(map[string]jetstream.Consumer),
	}, nil
}

// Publish appends data to the given topic.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	if _, err := b.js.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// EnsureGroup creates (or re-binds to) the durable consumer for the group,
// delivering from the earliest available entry. CreateOrUpdateConsumer makes
// an already-existing group a no-op rather than an error.
func (b *Bus) EnsureGroup(ctx context.Context, topic, group string) error {
	_, err := b.consumer(ctx, topic, group)
	return err
}

// Fetch returns up to count pending entries for the group, waiting at most
// wait for the first one.
func (b *Bus) Fetch(ctx context.Context, topic, group string, count int, wait time.Duration) ([]*bus.Entry, error) {
	cons, err := b.consumer(ctx, topic, group)
	if err != nil {
		return nil, err
	}

	batch, err := cons.Fetch(count, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("nats fetch %s: %w", topic, err)
	}

	var entries []*bus.Entry
	for msg := range batch.Messages() {
		entries = append(entries, toEntry(msg))
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		if len(entries) == 0 {
			return nil, fmt.Errorf("nats fetch %s: %w", topic, err)
		}
		slog.Warn("nats fetch ended early", "topic", topic, "error", err)
	}
	return entries, nil
}

// IsConnected reports whether the NATS connection is currently up.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}

// consumer returns the cached durable consumer for topic+group, creating it
// on first use.
func (b *Bus) consumer(ctx context.Context, topic, group string) (jetstream.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := topic + "/" + group
	if cons, ok := b.groups[key]; ok {
		return cons, nil
	}

	cons, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		Durable:       durableName(group),
		FilterSubject: topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create %s/%s: %w", topic, group, err)
	}

	b.groups[key] = cons
	return cons, nil
}

func toEntry(msg jetstream.Msg) *bus.Entry {
	entry := &bus.Entry{
		Data:       msg.Data(),
		Deliveries: 1,
		AckFn:      msg.Ack,
	}
	if md, err := msg.Metadata(); err == nil {
		entry.ID = strconv.FormatUint(md.Sequence.Stream, 10)
		entry.Deliveries = md.NumDelivered
	}
	return entry
}

// durableName makes a group name legal as a JetStream durable (no dots).
func durableName(group string) string {
	return strings.ReplaceAll(group, ".", "_")
}
