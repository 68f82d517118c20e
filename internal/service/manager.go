package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bleam/bridge/internal/adapter/otel"
	"github.com/bleam/bridge/internal/domain"
	"github.com/bleam/bridge/internal/domain/envelope"
	"github.com/bleam/bridge/internal/port/bus"
	"github.com/bleam/bridge/internal/port/directory"
	"github.com/bleam/bridge/internal/port/platform"
)

// Status values published to the status topic.
const (
	statusConnected    = "CONNECTED"
	statusDisconnected = "DISCONNECTED"
)

// ConnectionManager owns the lifecycle of every tenant's platform
// connection: establishment, credential validation, bounded reconnection,
// and teardown. Each tenant's record is driven by a single watch goroutine
// consuming the connection's event stream, so per-tenant state never has two
// concurrent writers.
type ConnectionManager struct {
	client   platform.Client
	registry *Registry
	bus      bus.Stream
	ingest   *Ingestor
	dir      directory.Source
	metrics  *otel.Metrics

	statusTopic    string
	qrTopic        string
	reconnectDelay time.Duration
	maxReconnects  int
}

// ManagerOptions configures a ConnectionManager.
type ManagerOptions struct {
	StatusTopic    string
	QRTopic        string
	ReconnectDelay time.Duration
	MaxReconnects  int
}

// NewConnectionManager wires a ConnectionManager. dir and metrics may be nil
// (no bootstrap source, no instruments).
func NewConnectionManager(client platform.Client, reg *Registry, b bus.Stream, ingest *Ingestor, dir directory.Source, metrics *otel.Metrics, opts ManagerOptions) *ConnectionManager {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	maxReconnects := opts.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 3
	}
	return &ConnectionManager{
		client:         client,
		registry:       reg,
		bus:            b,
		ingest:         ingest,
		dir:            dir,
		metrics:        metrics,
		statusTopic:    opts.StatusTopic,
		qrTopic:        opts.QRTopic,
		reconnectDelay: delay,
		maxReconnects:  maxReconnects,
	}
}

// Start activates a tenant: validates the credential against the live
// platform, opens the connection, and registers the tenant. A tenant that is
// already connecting or connected fails fast with domain.ErrAlreadyActive
// and is left untouched.
func (m *ConnectionManager) Start(ctx context.Context, tenantID, credential string) error {
	if !m.registry.TryBegin(tenantID, credential) {
		return domain.ErrAlreadyActive
	}

	if err := m.client.ValidateCredential(ctx, credential); err != nil {
		m.registry.Remove(tenantID)
		return fmt.Errorf("%w: %s", domain.ErrInvalidCredential, err)
	}

	conn, err := m.client.Open(ctx, tenantID, credential)
	if err != nil {
		m.registry.Remove(tenantID)
		return fmt.Errorf("open connection: %w", err)
	}

	if !m.registry.Attach(tenantID, conn) {
		// Stop raced the open; the stop path owns cleanup.
		_ = conn.Close(ctx)
		return domain.ErrStopped
	}

	slog.Info("tenant connection opened", "platform", m.client.Name(), "tenant", tenantID)
	go m.watch(tenantID, conn)
	return nil
}

// Stop deactivates a tenant. The manual-stop flag is set before teardown, so
// a close event or pending reconnect observed during teardown cannot revive
// the connection. Registry removal and session-artifact cleanup happen
// regardless of teardown success.
func (m *ConnectionManager) Stop(ctx context.Context, tenantID string) error {
	conn, ok := m.registry.RequestStop(tenantID)
	if !ok {
		return domain.ErrNotFound
	}

	if conn != nil {
		if err := conn.Close(ctx); err != nil {
			slog.Warn("platform teardown failed", "tenant", tenantID, "error", err)
		}
	}

	m.cleanup(tenantID)
	slog.Info("tenant stopped", "platform", m.client.Name(), "tenant", tenantID)
	return nil
}

// Bootstrap fetches the active-tenant list from the upstream directory and
// starts each one. A failure for one tenant is logged and skipped; only the
// directory call itself is reported to the caller.
func (m *ConnectionManager) Bootstrap(ctx context.Context) error {
	if m.dir == nil {
		return nil
	}
	entries, err := m.dir.ActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("fetch active tenants: %w", err)
	}

	for _, e := range entries {
		if err := m.Start(ctx, e.ID, e.Credential); err != nil {
			slog.Error("bootstrap start failed", "tenant", e.ID, "error", err)
		}
	}
	slog.Info("bootstrap complete", "tenants", len(entries))
	return nil
}

// watch consumes a connection's event stream until it terminates, then runs
// close handling. It is the only goroutine that mutates this tenant's
// lifecycle while the connection lives.
func (m *ConnectionManager) watch(tenantID string, conn platform.Conn) {
	ctx := context.Background()

	for ev := range conn.Events() {
		switch ev.Type {
		case platform.EventConnected:
			if !m.registry.MarkConnected(tenantID) {
				continue
			}
			m.publishStatus(ctx, tenantID, statusConnected)
			slog.Info("tenant connected", "tenant", tenantID)

		case platform.EventPairingCode:
			if m.registry.Stopping(tenantID) {
				continue
			}
			m.publishPairingCode(ctx, tenantID, ev.PairingCode)

		case platform.EventMessage:
			m.ingest.HandleSocketMessage(ctx, tenantID, ev.Message)
		}
	}

	m.handleClose(tenantID)
}

// handleClose reacts to a terminated connection: cleanup on manual stop,
// bounded reconnect otherwise, terminal teardown once attempts are
// exhausted.
func (m *ConnectionManager) handleClose(tenantID string) {
	ctx := context.Background()

	if m.registry.Stopping(tenantID) {
		m.cleanup(tenantID)
		return
	}

	attempts := m.registry.NextAttempt(tenantID)
	if attempts == 0 {
		// Record already gone (terminal teardown raced the close).
		return
	}

	if attempts < m.maxReconnects {
		slog.Info("connection closed, scheduling reconnect",
			"tenant", tenantID, "attempt", attempts, "delay", m.reconnectDelay)
		if m.metrics != nil {
			m.metrics.Reconnects.Add(ctx, 1)
		}
		m.registry.ScheduleReconnect(tenantID, m.reconnectDelay, func() {
			m.reconnect(tenantID)
		})
		return
	}

	slog.Warn("reconnect attempts exhausted, deactivating tenant",
		"tenant", tenantID, "attempts", attempts)
	m.cleanup(tenantID)
	m.publishStatus(ctx, tenantID, statusDisconnected)
}

// reconnect re-opens a tenant connection after the backoff delay. The
// manual-stop flag is re-checked here because the stop may have landed
// between timer expiry and execution.
func (m *ConnectionManager) reconnect(tenantID string) {
	ctx := context.Background()

	if m.registry.Stopping(tenantID) {
		return
	}
	credential, ok := m.registry.Credential(tenantID)
	if !ok {
		return
	}

	conn, err := m.client.Open(ctx, tenantID, credential)
	if err != nil {
		slog.Error("reconnect failed", "tenant", tenantID, "error", err)
		m.handleClose(tenantID)
		return
	}
	if !m.registry.Attach(tenantID, conn) {
		_ = conn.Close(ctx)
		return
	}
	go m.watch(tenantID, conn)
}

// cleanup removes the tenant from the registry and discards session
// artifacts. Safe to call more than once.
func (m *ConnectionManager) cleanup(tenantID string) {
	m.registry.Remove(tenantID)
	if err := m.client.Discard(tenantID); err != nil {
		slog.Warn("discard session artifacts failed", "tenant", tenantID, "error", err)
	}
}

func (m *ConnectionManager) publishStatus(ctx context.Context, tenantID, status string) {
	data, err := json.Marshal(envelope.Status{TenantID: tenantID, Status: status})
	if err != nil {
		slog.Error("marshal status envelope failed", "tenant", tenantID, "error", err)
		return
	}
	if err := m.bus.Publish(ctx, m.statusTopic, data); err != nil {
		slog.Error("publish status failed", "tenant", tenantID, "status", status, "error", err)
	}
}

func (m *ConnectionManager) publishPairingCode(ctx context.Context, tenantID, code string) {
	data, err := json.Marshal(envelope.PairingCode{TenantID: tenantID, Code: code})
	if err != nil {
		slog.Error("marshal pairing envelope failed", "tenant", tenantID, "error", err)
		return
	}
	if err := m.bus.Publish(ctx, m.qrTopic, data); err != nil {
		slog.Error("publish pairing code failed", "tenant", tenantID, "error", err)
	}
}
