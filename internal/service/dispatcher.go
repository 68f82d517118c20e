package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bleam/bridge/internal/adapter/otel"
	"github.com/bleam/bridge/internal/domain/envelope"
	"github.com/bleam/bridge/internal/port/bus"
)

// DefaultAction is the platform method applied when an outgoing entry names
// none.
const DefaultAction = "sendMessage"

// Dispatcher is the long-lived outgoing consumer loop. All replicas of a
// bridge share one consumer group, so each entry is processed by exactly one
// replica at a time. An entry is acknowledged only after the platform send
// succeeds; anything unacknowledged is redelivered by the bus, which is the
// system's retry mechanism.
type Dispatcher struct {
	bus      bus.Stream
	registry *Registry
	metrics  *otel.Metrics

	topic         string
	dlqTopic      string
	group         string
	consumer      string
	batchSize     int
	pollWait      time.Duration
	maxDeliveries uint64
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Topic           string
	DeadLetterTopic string
	Group           string
	Consumer        string
	BatchSize       int
	PollWait        time.Duration
	// MaxDeliveries bounds redelivery of a poisoned entry before it is
	// routed to the dead-letter topic. Zero disables the bound.
	MaxDeliveries uint64
}

// NewDispatcher wires a Dispatcher. metrics may be nil.
func NewDispatcher(b bus.Stream, reg *Registry, metrics *otel.Metrics, opts DispatcherOptions) *Dispatcher {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 10
	}
	wait := opts.PollWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Dispatcher{
		bus:           b,
		registry:      reg,
		metrics:       metrics,
		topic:         opts.Topic,
		dlqTopic:      opts.DeadLetterTopic,
		group:         opts.Group,
		consumer:      opts.Consumer,
		batchSize:     batch,
		pollWait:      wait,
		maxDeliveries: opts.MaxDeliveries,
	}
}

// Run polls the outgoing topic until ctx is cancelled. Only the initial
// consumer-group creation can fail the loop; poll failures back off and
// retry forever.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.bus.EnsureGroup(ctx, d.topic, d.group); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	slog.Info("outgoing dispatcher started",
		"topic", d.topic, "group", d.group, "consumer", d.consumer)

	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, err := d.bus.Fetch(ctx, d.topic, d.group, d.batchSize, d.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("outgoing poll failed", "topic", d.topic, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.pollWait):
			}
			continue
		}

		for _, entry := range entries {
			d.process(ctx, entry)
		}
	}
}

// process handles one outgoing entry. A failure here never propagates: the
// entry is either dead-lettered or left pending for redelivery, and the rest
// of the batch continues.
func (d *Dispatcher) process(ctx context.Context, entry *bus.Entry) {
	out, err := envelope.DecodeOutgoing(entry.Data)
	if err != nil {
		slog.Error("undecodable outgoing entry", "id", entry.ID, "error", err)
		d.deadLetter(ctx, entry)
		return
	}

	if d.maxDeliveries > 0 && entry.Deliveries > d.maxDeliveries {
		slog.Warn("outgoing entry exceeded redelivery bound",
			"id", entry.ID, "tenant", out.TenantID, "deliveries", entry.Deliveries)
		d.deadLetter(ctx, entry)
		return
	}

	conn := d.registry.Conn(out.TenantID)
	if conn == nil {
		slog.Error("no live connection for tenant", "tenant", out.TenantID, "id", entry.ID)
		d.fail(ctx)
		return
	}

	action := out.Action
	if action == "" {
		action = DefaultAction
	}

	if err := conn.Send(ctx, action, out.ChatID, out.Payload); err != nil {
		slog.Error("platform send failed",
			"tenant", out.TenantID, "id", entry.ID, "action", action, "error", err)
		d.fail(ctx)
		return
	}

	if err := entry.Ack(); err != nil {
		slog.Error("ack failed", "id", entry.ID, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.OutgoingDispatched.Add(ctx, 1)
	}
}

// deadLetter moves an entry to the dead-letter topic and acknowledges it.
// When the dead-letter publish itself fails the entry stays pending and will
// be retried on redelivery.
func (d *Dispatcher) deadLetter(ctx context.Context, entry *bus.Entry) {
	if d.dlqTopic == "" {
		return
	}
	if err := d.bus.Publish(ctx, d.dlqTopic, entry.Data); err != nil {
		slog.Error("dead-letter publish failed", "id", entry.ID, "error", err)
		return
	}
	if err := entry.Ack(); err != nil {
		slog.Error("dead-letter ack failed", "id", entry.ID, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.OutgoingDeadLettered.Add(ctx, 1)
	}
}

func (d *Dispatcher) fail(ctx context.Context) {
	if d.metrics != nil {
		d.metrics.OutgoingFailed.Add(ctx, 1)
	}
}
