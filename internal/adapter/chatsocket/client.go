// Package chatsocket implements the platform port for a persistent-socket
// multi-device chat gateway. Each tenant holds one websocket to the gateway;
// connection state, pairing requests, and inbound messages arrive as JSON
// frames on that socket.
package chatsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/websocket"

	"github.com/bleam/bridge/internal/port/platform"
)

const clientName = "chatsocket"

// Client implements platform.Client against a websocket chat gateway.
type Client struct {
	gatewayURL string
	sessionDir string
}

// New creates a socket client. sessionDir is where per-tenant session
// artifacts (resumption state written by the gateway) live.
func New(gatewayURL, sessionDir string) *Client {
	return &Client{gatewayURL: gatewayURL, sessionDir: sessionDir}
}

func (c *Client) Name() string { return clientName }

// ValidateCredential checks the gateway is reachable. Socket platforms pair
// interactively, so an empty credential is acceptable; a non-empty one is
// verified during the login handshake in Open.
func (c *Client) ValidateCredential(ctx context.Context, _ string) error {
	ws, _, err := websocket.Dial(ctx, c.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	return ws.Close(websocket.StatusNormalClosure, "")
}

// frame is the gateway wire format, both directions.
type frame struct {
	Type        string          `json:"type"`
	TenantID    string          `json:"userId,omitempty"`
	Credential  string          `json:"credential,omitempty"`
	Session     string          `json:"session,omitempty"`
	Method      string          `json:"method,omitempty"`
	ChatID      string          `json:"chatId,omitempty"`
	Text        string          `json:"text,omitempty"`
	FromSelf    bool            `json:"fromSelf,omitempty"`
	PairingCode string          `json:"code,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Open dials the gateway, sends the login frame (resuming a stored session
// when one exists), and starts the read loop that turns gateway frames into
// platform events.
func (c *Client) Open(ctx context.Context, tenantID, credential string) (platform.Conn, error) {
	dir := c.tenantDir(tenantID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}

	ws, _, err := websocket.Dial(ctx, c.gatewayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	cn := &conn{
		ws:         ws,
		sessionDir: dir,
		events:     make(chan platform.Event, 16),
		cancel:     cancel,
	}

	login := frame{
		Type:       "login",
		TenantID:   tenantID,
		Credential: credential,
		Session:    cn.loadSession(),
	}
	if err := cn.write(ctx, login); err != nil {
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("gateway login: %w", err)
	}

	go cn.readLoop(readCtx)
	return cn, nil
}

// Discard deletes the tenant's session artifacts.
func (c *Client) Discard(tenantID string) error {
	return os.RemoveAll(c.tenantDir(tenantID))
}

func (c *Client) tenantDir(tenantID string) string {
	return filepath.Join(c.sessionDir, "auth-"+tenantID)
}

// conn is one live gateway socket.
type conn struct {
	ws         *websocket.Conn
	sessionDir string
	events     chan platform.Event
	cancel     context.CancelFunc
	writeMu    sync.Mutex
}

// readLoop decodes gateway frames into platform events until the socket
// dies, then closes the event stream. The owner interprets the closure.
func (n *conn) readLoop(ctx context.Context) {
	defer close(n.events)

	for {
		_, data, err := n.ws.Read(ctx)
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue // unknown frame, skip
		}

		switch f.Type {
		case "connected":
			n.events <- platform.Event{Type: platform.EventConnected}
		case "session":
			n.storeSession(f.Session)
		case "pairing_code":
			n.events <- platform.Event{Type: platform.EventPairingCode, PairingCode: f.PairingCode}
		case "message":
			n.events <- platform.Event{Type: platform.EventMessage, Message: platform.Message{
				ChatID:   f.ChatID,
				Text:     f.Text,
				FromSelf: f.FromSelf,
			}}
		}
	}
}

// Send writes a send frame for the counterpart chat.
func (n *conn) Send(ctx context.Context, action, chatID string, payload map[string]any) error {
	var raw json.RawMessage
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}
	return n.write(ctx, frame{
		Type:    "send",
		Method:  action,
		ChatID:  chatID,
		Payload: raw,
	})
}

func (n *conn) Events() <-chan platform.Event { return n.events }

// Close logs the session out on the gateway side and closes the socket. The
// read loop then terminates and closes the event stream.
func (n *conn) Close(ctx context.Context) error {
	logoutErr := n.write(ctx, frame{Type: "logout"})
	n.cancel()
	closeErr := n.ws.Close(websocket.StatusNormalClosure, "")
	if logoutErr != nil {
		return fmt.Errorf("gateway logout: %w", logoutErr)
	}
	return closeErr
}

func (n *conn) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return n.ws.Write(ctx, websocket.MessageText, data)
}

// loadSession returns the stored resumption blob, or "" on first login.
func (n *conn) loadSession() string {
	data, err := os.ReadFile(filepath.Join(n.sessionDir, "session.json"))
	if err != nil {
		return ""
	}
	return string(data)
}

// storeSession persists the resumption blob the gateway pushes after login.
func (n *conn) storeSession(session string) {
	path := filepath.Join(n.sessionDir, "session.json")
	if err := os.WriteFile(path, []byte(session), 0o600); err != nil {
		// Lost session state only costs a re-pair on the next connect.
		return
	}
}
