// Package directory implements the upstream platform-registry port over
// HTTP, authenticated with a freshly issued service token per call.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bleam/bridge/internal/domain/tenant"
	"github.com/bleam/bridge/internal/service"
)

// Client fetches the active-tenant list from the platform core.
type Client struct {
	url        string
	auth       *service.ServiceAuth
	httpClient *http.Client
}

// New creates a directory client for the given endpoint.
func New(url string, auth *service.ServiceAuth) *Client {
	return &Client{
		url:        url,
		auth:       auth,
		httpClient: http.DefaultClient,
	}
}

// ActiveTenants performs the authenticated list call. The endpoint returns
// either objects with credentials or bare tenant ids, depending on the
// platform flavor; both shapes are accepted.
func (c *Client) ActiveTenants(ctx context.Context) ([]tenant.Entry, error) {
	token, err := c.auth.Issue()
	if err != nil {
		return nil, fmt.Errorf("issue service token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("directory %d: %s", resp.StatusCode, string(body))
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("directory decode: %w", err)
	}

	entries := make([]tenant.Entry, 0, len(raw))
	for _, el := range raw {
		entry, err := decodeEntry(el)
		if err != nil {
			return nil, fmt.Errorf("directory decode: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeEntry accepts `{"userId": ..., "apiToken": ...}`, a bare string id,
// or a bare numeric id.
func decodeEntry(el json.RawMessage) (tenant.Entry, error) {
	var obj struct {
		UserID   any    `json:"userId"`
		APIToken string `json:"apiToken"`
	}
	if err := json.Unmarshal(el, &obj); err == nil && obj.UserID != nil {
		return tenant.Entry{ID: idString(obj.UserID), Credential: obj.APIToken}, nil
	}

	var id any
	if err := json.Unmarshal(el, &id); err != nil {
		return tenant.Entry{}, err
	}
	s := idString(id)
	if s == "" {
		return tenant.Entry{}, fmt.Errorf("unrecognized tenant entry %s", string(el))
	}
	return tenant.Entry{ID: s}, nil
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
