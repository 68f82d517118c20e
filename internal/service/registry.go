package service

import (
	"sync"
	"time"

	"github.com/bleam/bridge/internal/domain/tenant"
	"github.com/bleam/bridge/internal/port/platform"
)

// connRecord is the mutable per-tenant connection state. It is only ever
// touched under the registry lock.
type connRecord struct {
	state      tenant.State
	credential string
	conn       platform.Conn
	attempts   int
	stopping   bool
	reconnect  *time.Timer
}

// Registry is the single source of truth for which tenants are active. All
// operations are atomic check-and-act transitions, so stop-vs-reconnect
// races cannot observe a tenant mid-transition.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]*connRecord
}

// NewRegistry creates an empty tenant registry.
func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]*connRecord)}
}

// TryBegin inserts a CONNECTING record for the tenant. It returns false when
// the tenant already has a record, preserving the one-connection-per-tenant
// invariant.
func (r *Registry) TryBegin(id, credential string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[id]; ok {
		return false
	}
	r.tenants[id] = &connRecord{
		state:      tenant.StateConnecting,
		credential: credential,
	}
	return true
}

// Attach stores the live connection handle for the tenant. It returns false
// when the tenant was removed or stopped while the connection was being
// established; the caller must then discard the connection.
func (r *Registry) Attach(id string, conn platform.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	if !ok || rec.stopping {
		return false
	}
	rec.conn = conn
	return true
}

// MarkConnected records a successful platform handshake and resets the
// reconnect-attempt counter. Returns false when the tenant is gone or
// stopping, so a stale handshake event cannot be reported downstream.
func (r *Registry) MarkConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	if !ok || rec.stopping {
		return false
	}
	rec.state = tenant.StateConnected
	rec.attempts = 0
	return true
}

// Conn returns the tenant's live connection handle, or nil while the tenant
// is absent or still connecting.
func (r *Registry) Conn(id string) platform.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	if !ok {
		return nil
	}
	return rec.conn
}

// Credential returns the credential recorded at start time.
func (r *Registry) Credential(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	if !ok {
		return "", false
	}
	return rec.credential, true
}

// NextAttempt increments and returns the tenant's reconnect-attempt counter.
// It also moves the tenant back to CONNECTING.
func (r *Registry) NextAttempt(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	if !ok {
		return 0
	}
	rec.state = tenant.StateConnecting
	rec.conn = nil
	rec.attempts++
	return rec.attempts
}

// Stopping reports whether a manual stop has been requested for the tenant.
func (r *Registry) Stopping(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	return ok && rec.stopping
}

// RequestStop sets the manual-stop flag and cancels any pending reconnect in
// the same critical section, so a scheduled reconnect can never fire after a
// stop. It returns the live connection (possibly nil) for teardown and false
// when the tenant is unknown.
func (r *Registry) RequestStop(id string) (platform.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	if !ok {
		return nil, false
	}
	rec.stopping = true
	if rec.reconnect != nil {
		rec.reconnect.Stop()
		rec.reconnect = nil
	}
	return rec.conn, true
}

// ScheduleReconnect arms a delayed reconnect for the tenant. The timer is
// kept on the record so RequestStop can cancel it atomically; fn itself must
// re-check Stopping before acting. Returns false when the tenant is absent
// or stopping.
func (r *Registry) ScheduleReconnect(id string, delay time.Duration, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tenants[id]
	if !ok || rec.stopping {
		return false
	}
	rec.reconnect = time.AfterFunc(delay, fn)
	return true
}

// Remove deletes the tenant's record, cancelling any pending reconnect.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.tenants[id]; ok && rec.reconnect != nil {
		rec.reconnect.Stop()
	}
	delete(r.tenants, id)
}

// Len returns the number of registered tenants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}

// Snapshot returns a point-in-time view of all tenant records.
func (r *Registry) Snapshot() []tenant.Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]tenant.Info, 0, len(r.tenants))
	for id, rec := range r.tenants {
		infos = append(infos, tenant.Info{
			ID:       id,
			State:    rec.state,
			Attempts: rec.attempts,
			Stopping: rec.stopping,
		})
	}
	return infos
}
