// Package botapi implements the platform port for a webhook-based bot API
// (Telegram-style). A tenant "connection" is a registered webhook plus the
// bot token used for outgoing calls; there is no socket to lose, so the
// event stream stays silent until Close.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bleam/bridge/internal/port/platform"
	"github.com/bleam/bridge/internal/service"
)

const clientName = "botapi"

// Client implements platform.Client against a bot API origin.
type Client struct {
	baseURL      string
	publicDomain string
	secrets      *service.WebhookSecrets
	httpClient   *http.Client
}

// New creates a bot API client. publicDomain is the externally reachable
// base for webhook callback URLs.
func New(baseURL, publicDomain string, secrets *service.WebhookSecrets) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		publicDomain: strings.TrimRight(publicDomain, "/"),
		secrets:      secrets,
		httpClient:   http.DefaultClient,
	}
}

func (c *Client) Name() string { return clientName }

// apiResult is the bot API response envelope; only the ok flag matters here.
type apiResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// ValidateCredential performs the liveness check call for a bot token.
func (c *Client) ValidateCredential(ctx context.Context, credential string) error {
	res, err := c.get(ctx, credential, "getMe", nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("bot api rejected token: %s", res.Description)
	}
	return nil
}

// Open registers the tenant's webhook. The callback URL embeds the derived
// per-tenant secret, so inbound deliveries authorize themselves without a
// lookup table.
func (c *Client) Open(ctx context.Context, tenantID, credential string) (platform.Conn, error) {
	hook := c.publicDomain + "/webhook/" + url.PathEscape(tenantID) + "/" + c.secrets.Derive(tenantID)

	res, err := c.get(ctx, credential, "setWebhook", url.Values{"url": {hook}})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("set webhook: %s", res.Description)
	}

	conn := &conn{
		client: c,
		token:  credential,
		events: make(chan platform.Event, 1),
	}
	// The webhook is registered; report the tenant live immediately.
	conn.events <- platform.Event{Type: platform.EventConnected}
	return conn, nil
}

// Discard is a no-op: webhook bridges keep no session artifacts.
func (c *Client) Discard(string) error { return nil }

// get performs a GET bot API method call and decodes the result envelope.
func (c *Client) get(ctx context.Context, token, method string, query url.Values) (*apiResult, error) {
	u := c.baseURL + "/bot" + token + "/" + method
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("bot api request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot api %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var res apiResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("bot api %s: decode: %w", method, err)
	}
	return &res, nil
}

// conn is one tenant's registered webhook.
type conn struct {
	client    *Client
	token     string
	events    chan platform.Event
	closeOnce sync.Once
}

// Send invokes the platform method with the counterpart chat id merged into
// the payload. Payload keys win on collision, matching the producer contract.
func (n *conn) Send(ctx context.Context, action, chatID string, payload map[string]any) error {
	body := map[string]any{"chat_id": chatID}
	for k, v := range payload {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bot api marshal: %w", err)
	}

	u := n.client.baseURL + "/bot" + n.token + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("bot api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot api %s: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bot api %s: %d: %s", action, resp.StatusCode, string(respBody))
	}
	return nil
}

func (n *conn) Events() <-chan platform.Event { return n.events }

// Close deletes the webhook registration. The event stream is closed
// afterwards so the owner observes the termination exactly once.
func (n *conn) Close(ctx context.Context) error {
	var err error
	n.closeOnce.Do(func() {
		defer close(n.events)
		res, getErr := n.client.get(ctx, n.token, "deleteWebhook", nil)
		if getErr != nil {
			err = getErr
			return
		}
		if !res.OK {
			err = fmt.Errorf("delete webhook: %s", res.Description)
		}
	})
	return err
}
