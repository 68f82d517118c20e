package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bleam/bridge/internal/domain"
	"github.com/bleam/bridge/internal/domain/envelope"
	"github.com/bleam/bridge/internal/domain/tenant"
	"github.com/bleam/bridge/internal/port/platform"
)

const (
	testStatusTopic   = "faketform.status"
	testQRTopic       = "faketform.qr"
	testIncomingTopic = "faketform.incoming"
)

func newTestManager(client *fakeClient, b *fakeBus) (*ConnectionManager, *Registry) {
	reg := NewRegistry()
	ingest := NewIngestor(b, testIncomingTopic, nil)
	mgr := NewConnectionManager(client, reg, b, ingest, nil, nil, ManagerOptions{
		StatusTopic:    testStatusTopic,
		QRTopic:        testQRTopic,
		ReconnectDelay: 5 * time.Millisecond,
		MaxReconnects:  3,
	})
	return mgr, reg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_StartPublishesConnectedStatus(t *testing.T) {
	conn := newFakeConn()
	client := &fakeClient{conns: []*fakeConn{conn}}
	b := newFakeBus()
	mgr, reg := newTestManager(client, b)

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn.events <- platform.Event{Type: platform.EventConnected}
	waitFor(t, "connected status", func() bool { return b.count(testStatusTopic) == 1 })

	var st envelope.Status
	if err := json.Unmarshal(b.last(testStatusTopic), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.TenantID != "t1" || st.Status != "CONNECTED" {
		t.Errorf("status = %+v, want t1 CONNECTED", st)
	}

	waitFor(t, "registry CONNECTED", func() bool {
		infos := reg.Snapshot()
		return len(infos) == 1 && infos[0].State == tenant.StateConnected
	})
}

func TestManager_StartAlreadyActive(t *testing.T) {
	client := &fakeClient{}
	mgr, _ := newTestManager(client, newFakeBus())

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := mgr.Start(context.Background(), "t1", "cred"); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Errorf("second start: err = %v, want ErrAlreadyActive", err)
	}
	if client.openCount() != 1 {
		t.Errorf("open count = %d, want 1", client.openCount())
	}
}

func TestManager_StartInvalidCredential(t *testing.T) {
	client := &fakeClient{validateErr: errors.New("bot api rejected token")}
	mgr, reg := newTestManager(client, newFakeBus())

	err := mgr.Start(context.Background(), "t1", "bad")
	if !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
	if reg.Len() != 0 {
		t.Error("failed start left a registry record")
	}
	if err := mgr.Start(context.Background(), "t1", "good"); errors.Is(err, domain.ErrAlreadyActive) {
		t.Error("tenant stayed reserved after a failed start")
	}
}

func TestManager_StartOpenFailure(t *testing.T) {
	client := &fakeClient{openErr: errors.New("gateway unreachable")}
	mgr, reg := newTestManager(client, newFakeBus())

	if err := mgr.Start(context.Background(), "t1", "cred"); err == nil {
		t.Fatal("expected error when open fails")
	}
	if reg.Len() != 0 {
		t.Error("failed open left a registry record")
	}
}

func TestManager_StopTearsDownAndDiscards(t *testing.T) {
	conn := newFakeConn()
	client := &fakeClient{conns: []*fakeConn{conn}}
	mgr, reg := newTestManager(client, newFakeBus())

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.Stop(context.Background(), "t1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if !conn.wasClosed() {
		t.Error("connection was not closed")
	}
	if reg.Len() != 0 {
		t.Error("tenant still registered after stop")
	}
	waitFor(t, "session discard", func() bool { return len(client.discardedIDs()) >= 1 })
}

func TestManager_StopUnknownTenant(t *testing.T) {
	mgr, _ := newTestManager(&fakeClient{}, newFakeBus())
	if err := mgr.Stop(context.Background(), "absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestManager_StopSucceedsDespiteTeardownFailure(t *testing.T) {
	conn := newFakeConn()
	conn.closeErr = errors.New("platform unreachable")
	client := &fakeClient{conns: []*fakeConn{conn}}
	mgr, reg := newTestManager(client, newFakeBus())

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.Stop(context.Background(), "t1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if reg.Len() != 0 {
		t.Error("teardown failure left the tenant registered")
	}
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	client := &fakeClient{conns: []*fakeConn{conn1, conn2}}
	b := newFakeBus()
	mgr, reg := newTestManager(client, b)

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn1.terminate()
	waitFor(t, "reconnect open", func() bool { return client.openCount() == 2 })

	conn2.events <- platform.Event{Type: platform.EventConnected}
	waitFor(t, "status after reconnect", func() bool { return b.count(testStatusTopic) == 1 })

	infos := reg.Snapshot()
	if len(infos) != 1 || infos[0].State != tenant.StateConnected || infos[0].Attempts != 0 {
		t.Errorf("snapshot after reconnect = %+v, want one CONNECTED record with attempts reset", infos)
	}
}

func TestManager_ReconnectAttemptsExhausted(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	conn3 := newFakeConn()
	client := &fakeClient{conns: []*fakeConn{conn1, conn2, conn3}}
	b := newFakeBus()
	mgr, reg := newTestManager(client, b)

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn1.terminate()
	waitFor(t, "second open", func() bool { return client.openCount() == 2 })
	conn2.terminate()
	waitFor(t, "third open", func() bool { return client.openCount() == 3 })
	conn3.terminate()

	waitFor(t, "terminal teardown", func() bool { return reg.Len() == 0 })
	waitFor(t, "disconnected status", func() bool { return b.count(testStatusTopic) == 1 })

	var st envelope.Status
	if err := json.Unmarshal(b.last(testStatusTopic), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != "DISCONNECTED" {
		t.Errorf("status = %q, want DISCONNECTED", st.Status)
	}
	if client.openCount() != 3 {
		t.Errorf("open count = %d, want 3 (no opens past the bound)", client.openCount())
	}
}

func TestManager_StopWinsCloseRace(t *testing.T) {
	conn := newFakeConn()
	client := &fakeClient{conns: []*fakeConn{conn}}
	b := newFakeBus()
	mgr, reg := newTestManager(client, b)

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.Stop(context.Background(), "t1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Give any wrongly scheduled reconnect time to fire.
	time.Sleep(30 * time.Millisecond)
	if client.openCount() != 1 {
		t.Errorf("open count = %d, want 1 (no reconnect after stop)", client.openCount())
	}
	if reg.Len() != 0 {
		t.Error("tenant registered again after stop")
	}
	if b.count(testStatusTopic) != 0 {
		t.Error("status published for a manual stop")
	}
}

func TestManager_PairingCodeForwarded(t *testing.T) {
	conn := newFakeConn()
	client := &fakeClient{conns: []*fakeConn{conn}}
	b := newFakeBus()
	mgr, _ := newTestManager(client, b)

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn.events <- platform.Event{Type: platform.EventPairingCode, PairingCode: "ABCD-1234"}
	waitFor(t, "pairing publish", func() bool { return b.count(testQRTopic) == 1 })

	var pc envelope.PairingCode
	if err := json.Unmarshal(b.last(testQRTopic), &pc); err != nil {
		t.Fatalf("decode pairing code: %v", err)
	}
	if pc.TenantID != "t1" || pc.Code != "ABCD-1234" {
		t.Errorf("pairing code = %+v, want t1 ABCD-1234", pc)
	}
}

func TestManager_SocketMessageForwarded(t *testing.T) {
	conn := newFakeConn()
	client := &fakeClient{conns: []*fakeConn{conn}}
	b := newFakeBus()
	mgr, _ := newTestManager(client, b)

	if err := mgr.Start(context.Background(), "t1", "cred"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn.events <- platform.Event{Type: platform.EventMessage, Message: platform.Message{ChatID: "c9", Text: "hello"}}
	conn.events <- platform.Event{Type: platform.EventMessage, Message: platform.Message{ChatID: "c9", Text: "mine", FromSelf: true}}
	conn.events <- platform.Event{Type: platform.EventMessage, Message: platform.Message{ChatID: "c9"}}
	waitFor(t, "inbound publish", func() bool { return b.count(testIncomingTopic) == 1 })

	// The self-originated and empty messages must stay dropped.
	time.Sleep(20 * time.Millisecond)
	if n := b.count(testIncomingTopic); n != 1 {
		t.Fatalf("inbound count = %d, want 1", n)
	}

	var in envelope.Inbound
	if err := json.Unmarshal(b.last(testIncomingTopic), &in); err != nil {
		t.Fatalf("decode inbound: %v", err)
	}
	if in.TenantID != "t1" || in.ChatID != "c9" || in.Message != "hello" {
		t.Errorf("inbound = %+v, want t1/c9/hello", in)
	}
}

func TestManager_BootstrapStartsDirectoryTenants(t *testing.T) {
	client := &fakeClient{}
	b := newFakeBus()
	reg := NewRegistry()
	ingest := NewIngestor(b, testIncomingTopic, nil)
	dir := &fakeDirectory{entries: []tenant.Entry{
		{ID: "t1", Credential: "c1"},
		{ID: "t2", Credential: "c2"},
	}}
	mgr := NewConnectionManager(client, reg, b, ingest, dir, nil, ManagerOptions{
		StatusTopic: testStatusTopic,
		QRTopic:     testQRTopic,
	})

	if err := mgr.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("registered tenants = %d, want 2", reg.Len())
	}
}

func TestManager_BootstrapSkipsFailingTenant(t *testing.T) {
	// The first start fails validation, the rest must still proceed.
	client := &fakeClient{}
	b := newFakeBus()
	reg := NewRegistry()
	reg.TryBegin("t1", "c1") // t1 already active, bootstrap start will fail
	ingest := NewIngestor(b, testIncomingTopic, nil)
	dir := &fakeDirectory{entries: []tenant.Entry{
		{ID: "t1", Credential: "c1"},
		{ID: "t2", Credential: "c2"},
	}}
	mgr := NewConnectionManager(client, reg, b, ingest, dir, nil, ManagerOptions{})

	if err := mgr.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("registered tenants = %d, want 2", reg.Len())
	}
}

func TestManager_BootstrapDirectoryError(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("directory down")}
	b := newFakeBus()
	reg := NewRegistry()
	mgr := NewConnectionManager(&fakeClient{}, reg, b, NewIngestor(b, testIncomingTopic, nil), dir, nil, ManagerOptions{})

	if err := mgr.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected error when the directory call fails")
	}
}

func TestManager_BootstrapWithoutDirectory(t *testing.T) {
	b := newFakeBus()
	mgr, _ := newTestManager(&fakeClient{}, b)
	if err := mgr.Bootstrap(context.Background()); err != nil {
		t.Errorf("bootstrap without a directory: %v", err)
	}
}
