// Package otel provides OpenTelemetry setup and instruments for the bridge.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "bridge"

// Metrics holds all bridge metric instruments.
type Metrics struct {
	InboundPublished     metric.Int64Counter
	OutgoingDispatched   metric.Int64Counter
	OutgoingFailed       metric.Int64Counter
	OutgoingDeadLettered metric.Int64Counter
	Reconnects           metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InboundPublished, err = meter.Int64Counter("bridge.inbound.published",
		metric.WithDescription("Inbound messages published to the bus"))
	if err != nil {
		return nil, err
	}

	m.OutgoingDispatched, err = meter.Int64Counter("bridge.outgoing.dispatched",
		metric.WithDescription("Outgoing entries sent and acknowledged"))
	if err != nil {
		return nil, err
	}

	m.OutgoingFailed, err = meter.Int64Counter("bridge.outgoing.failed",
		metric.WithDescription("Outgoing entries that failed processing"))
	if err != nil {
		return nil, err
	}

	m.OutgoingDeadLettered, err = meter.Int64Counter("bridge.outgoing.deadlettered",
		metric.WithDescription("Outgoing entries routed to the dead-letter topic"))
	if err != nil {
		return nil, err
	}

	m.Reconnects, err = meter.Int64Counter("bridge.reconnects",
		metric.WithDescription("Reconnect attempts scheduled"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
