package service

import (
	"context"
	"sync"
	"time"

	"github.com/bleam/bridge/internal/domain/tenant"
	"github.com/bleam/bridge/internal/port/bus"
	"github.com/bleam/bridge/internal/port/platform"
)

// fakeBus records published entries per topic and serves canned fetches.
type fakeBus struct {
	mu         sync.Mutex
	published  map[string][][]byte
	publishErr error
	groupErr   error
	fetchFn    func(topic, group string, count int) ([]*bus.Entry, error)
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.published[topic] = append(b.published[topic], cp)
	return nil
}

func (b *fakeBus) EnsureGroup(context.Context, string, string) error { return b.groupErr }

func (b *fakeBus) Fetch(_ context.Context, topic, group string, count int, _ time.Duration) ([]*bus.Entry, error) {
	if b.fetchFn != nil {
		return b.fetchFn(topic, group, count)
	}
	return nil, nil
}

func (b *fakeBus) IsConnected() bool { return true }
func (b *fakeBus) Close() error      { return nil }

func (b *fakeBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[topic])
}

func (b *fakeBus) last(topic string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.published[topic]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// fakeConn is a scriptable platform connection. Tests push events into the
// channel and close it to simulate a terminated connection.
type fakeConn struct {
	mu       sync.Mutex
	events   chan platform.Event
	sends    []sentCall
	sendErr  error
	closeErr error
	closed   bool
	once     sync.Once
}

type sentCall struct {
	action  string
	chatID  string
	payload map[string]any
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan platform.Event, 16)}
}

func (c *fakeConn) Send(_ context.Context, action, chatID string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sends = append(c.sends, sentCall{action: action, chatID: chatID, payload: payload})
	return nil
}

func (c *fakeConn) Events() <-chan platform.Event { return c.events }

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	err := c.closeErr
	c.mu.Unlock()
	c.once.Do(func() { close(c.events) })
	return err
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentCalls() []sentCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentCall(nil), c.sends...)
}

// terminate simulates the platform dropping the connection.
func (c *fakeConn) terminate() {
	c.once.Do(func() { close(c.events) })
}

// fakeClient is a scriptable platform client. Each Open call returns the next
// connection from the conns slice, or a fresh one when exhausted.
type fakeClient struct {
	mu          sync.Mutex
	validateErr error
	openErr     error
	conns       []*fakeConn
	opened      []string
	discarded   []string
}

func (f *fakeClient) Name() string { return "faketform" }

func (f *fakeClient) ValidateCredential(context.Context, string) error {
	return f.validateErr
}

func (f *fakeClient) Open(_ context.Context, tenantID, _ string) (platform.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, tenantID)
	if len(f.conns) > 0 {
		c := f.conns[0]
		f.conns = f.conns[1:]
		return c, nil
	}
	return newFakeConn(), nil
}

func (f *fakeClient) Discard(tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, tenantID)
	return nil
}

func (f *fakeClient) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeClient) discardedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.discarded...)
}

// fakeDirectory serves a fixed active-tenant list.
type fakeDirectory struct {
	entries []tenant.Entry
	err     error
}

func (d *fakeDirectory) ActiveTenants(context.Context) ([]tenant.Entry, error) {
	return d.entries, d.err
}
