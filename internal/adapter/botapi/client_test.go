package botapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bleam/bridge/internal/port/platform"
	"github.com/bleam/bridge/internal/service"
)

// botAPIStub records bot API method calls and serves canned responses.
type botAPIStub struct {
	mu      sync.Mutex
	calls   []stubCall
	rejects bool
}

type stubCall struct {
	token  string
	method string
	query  map[string]string
	body   map[string]any
}

func (s *botAPIStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Path shape: /bot<token>/<method>
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/bot"), "/", 2)
		call := stubCall{token: parts[0], query: map[string]string{}}
		if len(parts) == 2 {
			call.method = parts[1]
		}
		for k, v := range r.URL.Query() {
			call.query[k] = v[0]
		}
		if r.Body != nil {
			if data, _ := io.ReadAll(r.Body); len(data) > 0 {
				_ = json.Unmarshal(data, &call.body)
			}
		}

		s.mu.Lock()
		s.calls = append(s.calls, call)
		rejects := s.rejects
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if rejects {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}
}

func (s *botAPIStub) setRejects(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = v
}

func (s *botAPIStub) lastCall() stubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func (s *botAPIStub) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.method)
	}
	return out
}

func newTestClient(srvURL string) (*Client, *service.WebhookSecrets) {
	secrets := service.NewWebhookSecrets("test-salt")
	return New(srvURL, "https://bridge.example.com", secrets), secrets
}

func TestValidateCredential(t *testing.T) {
	stub := &botAPIStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	if err := client.ValidateCredential(context.Background(), "tok-123"); err != nil {
		t.Fatalf("validate: %v", err)
	}

	call := stub.lastCall()
	if call.token != "tok-123" || call.method != "getMe" {
		t.Errorf("call = %+v, want getMe with tok-123", call)
	}

	stub.setRejects(true)
	if err := client.ValidateCredential(context.Background(), "bad"); err == nil {
		t.Error("expected error for rejected token")
	}
}

func TestOpenRegistersWebhookWithDerivedSecret(t *testing.T) {
	stub := &botAPIStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client, secrets := newTestClient(srv.URL)
	conn, err := client.Open(context.Background(), "42", "tok-123")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	call := stub.lastCall()
	if call.method != "setWebhook" {
		t.Fatalf("method = %q, want setWebhook", call.method)
	}
	want := "https://bridge.example.com/webhook/42/" + secrets.Derive("42")
	if call.query["url"] != want {
		t.Errorf("webhook url = %q, want %q", call.query["url"], want)
	}

	// The webhook registration itself is the connection; the open must be
	// reported without platform round trips.
	select {
	case ev := <-conn.Events():
		if ev.Type != platform.EventConnected {
			t.Errorf("first event type = %d, want connected", ev.Type)
		}
	default:
		t.Error("no connected event buffered after open")
	}
}

func TestSendMergesChatIDWithPayload(t *testing.T) {
	stub := &botAPIStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	conn, err := client.Open(context.Background(), "42", "tok-123")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	err = conn.Send(context.Background(), "sendMessage", "77", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	call := stub.lastCall()
	if call.method != "sendMessage" || call.token != "tok-123" {
		t.Fatalf("call = %+v, want sendMessage with tok-123", call)
	}
	if call.body["chat_id"] != "77" || call.body["text"] != "hi" {
		t.Errorf("body = %v, want chat_id 77 and text hi", call.body)
	}
}

func TestSendPayloadOverridesChatID(t *testing.T) {
	stub := &botAPIStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	conn, err := client.Open(context.Background(), "42", "tok-123")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	err = conn.Send(context.Background(), "sendMessage", "77", map[string]any{"chat_id": "override"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := stub.lastCall().body["chat_id"]; got != "override" {
		t.Errorf("chat_id = %v, want payload value to win", got)
	}
}

func TestCloseDeletesWebhookOnce(t *testing.T) {
	stub := &botAPIStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	conn, err := client.Open(context.Background(), "42", "tok-123")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := conn.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}

	deletes := 0
	for _, m := range stub.methods() {
		if m == "deleteWebhook" {
			deletes++
		}
	}
	if deletes != 1 {
		t.Errorf("deleteWebhook calls = %d, want 1", deletes)
	}

	// Channel closed exactly once; a drained receive must not block.
	for range conn.Events() {
	}
}

func TestSendErrorCarriesStatus(t *testing.T) {
	stub := &botAPIStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	conn, err := client.Open(context.Background(), "42", "tok-123")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	stub.setRejects(true)
	err = conn.Send(context.Background(), "sendMessage", "77", nil)
	if err == nil {
		t.Fatal("expected error on 4xx response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q does not carry the status code", err)
	}
}
