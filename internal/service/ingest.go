package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bleam/bridge/internal/adapter/otel"
	"github.com/bleam/bridge/internal/domain/envelope"
	"github.com/bleam/bridge/internal/port/bus"
	"github.com/bleam/bridge/internal/port/platform"
)

// Ingestor normalizes platform-originated events and publishes them to the
// incoming topic. Forwarding is best-effort: the platform has already been
// answered by the time an entry is published, so publish failures are logged
// and swallowed rather than surfaced as retries.
type Ingestor struct {
	bus     bus.Stream
	topic   string
	metrics *otel.Metrics
}

// NewIngestor creates an Ingestor publishing to the given incoming topic.
// metrics may be nil.
func NewIngestor(b bus.Stream, topic string, metrics *otel.Metrics) *Ingestor {
	return &Ingestor{bus: b, topic: topic, metrics: metrics}
}

// HandleWebhook forwards a webhook update that already passed secret
// verification. Absent text becomes the empty string; an update without an
// extractable chat id is still forwarded with an empty counterpart.
func (g *Ingestor) HandleWebhook(ctx context.Context, tenantID string, upd envelope.Update) {
	g.publish(ctx, envelope.Inbound{
		TenantID: tenantID,
		ChatID:   upd.ChatID(),
		Message:  upd.Text(),
	})
}

// HandleSocketMessage forwards a message pushed over a live socket
// connection. Self-originated messages and messages without text are
// dropped.
func (g *Ingestor) HandleSocketMessage(ctx context.Context, tenantID string, msg platform.Message) {
	if msg.FromSelf || msg.Text == "" {
		return
	}
	g.publish(ctx, envelope.Inbound{
		TenantID: tenantID,
		ChatID:   msg.ChatID,
		Message:  msg.Text,
	})
}

func (g *Ingestor) publish(ctx context.Context, in envelope.Inbound) {
	data, err := json.Marshal(in)
	if err != nil {
		slog.Error("marshal inbound envelope failed", "tenant", in.TenantID, "error", err)
		return
	}
	if err := g.bus.Publish(ctx, g.topic, data); err != nil {
		slog.Error("publish inbound message failed", "tenant", in.TenantID, "topic", g.topic, "error", err)
		return
	}
	if g.metrics != nil {
		g.metrics.InboundPublished.Add(ctx, 1)
	}
}
