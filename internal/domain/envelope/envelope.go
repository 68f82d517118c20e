// Package envelope defines the message envelopes carried on the bus between
// the bridge and the rest of the platform. Field names are part of the wire
// contract with the platform core and must not change.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Inbound is published to the incoming topic for every message a tenant
// receives on the external platform.
type Inbound struct {
	TenantID string `json:"userId"`
	ChatID   string `json:"chatUserId"`
	Message  string `json:"message"`
}

// Status is published to the status topic on connection-state transitions.
type Status struct {
	TenantID string `json:"userId"`
	Status   string `json:"status"`
}

// PairingCode is published to the qr topic when a socket platform asks the
// tenant to pair a device.
type PairingCode struct {
	TenantID string `json:"userId"`
	Code     string `json:"qrCode"`
}

// Outgoing is an entry consumed from the outgoing topic. Payload carries the
// platform method arguments; Action is the platform method name and may be
// empty, in which case the dispatcher applies the platform default.
type Outgoing struct {
	TenantID string
	ChatID   string
	Action   string
	Payload  map[string]any
}

// reserved keys are envelope routing fields, never part of the payload.
var reservedKeys = map[string]bool{
	"userId":     true,
	"chatUserId": true,
	"method":     true,
	"payload":    true,
}

// DecodeOutgoing parses an outgoing bus entry. The payload may be a nested
// object, a JSON-encoded string, or absent entirely; in the last case all
// non-reserved top-level fields are collected as a flat payload.
func DecodeOutgoing(data []byte) (Outgoing, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Outgoing{}, fmt.Errorf("decode outgoing entry: %w", err)
	}

	out := Outgoing{
		TenantID: coerceString(raw["userId"]),
		ChatID:   coerceString(raw["chatUserId"]),
		Action:   coerceString(raw["method"]),
	}
	if out.TenantID == "" {
		return Outgoing{}, errors.New("outgoing entry missing userId")
	}

	switch p := raw["payload"].(type) {
	case map[string]any:
		out.Payload = p
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(p), &m); err == nil {
			out.Payload = m
		} else {
			out.Payload = map[string]any{}
		}
	default:
		out.Payload = map[string]any{}
		for k, v := range raw {
			if !reservedKeys[k] {
				out.Payload[k] = v
			}
		}
	}

	return out, nil
}

// coerceString renders JSON string and number values as strings; tenant and
// chat ids arrive in both forms depending on the producer.
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// Update is the native webhook body pushed by a bot-API platform. Only the
// fields the bridge forwards are modeled; everything else is ignored.
type Update struct {
	Message *UpdateMessage `json:"message"`
}

// UpdateMessage is the message part of a webhook update.
type UpdateMessage struct {
	Chat *UpdateChat `json:"chat"`
	Text string      `json:"text"`
}

// UpdateChat identifies the counterpart chat.
type UpdateChat struct {
	ID int64 `json:"id"`
}

// ChatID returns the counterpart chat id as a string, or "" when the update
// carries no chat.
func (u Update) ChatID() string {
	if u.Message == nil || u.Message.Chat == nil {
		return ""
	}
	return strconv.FormatInt(u.Message.Chat.ID, 10)
}

// Text returns the message text, defaulting to "" when absent.
func (u Update) Text() string {
	if u.Message == nil {
		return ""
	}
	return u.Message.Text
}
