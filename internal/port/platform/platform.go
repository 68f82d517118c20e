// Package platform defines the external chat platform port (interface).
package platform

import "context"

// EventType enumerates connection events delivered by a platform client.
type EventType int

const (
	// EventConnected means the platform reported the connection open.
	EventConnected EventType = iota + 1
	// EventPairingCode means the platform asks the tenant to pair a device.
	EventPairingCode
	// EventMessage carries an inbound chat message.
	EventMessage
)

// Message is an inbound chat message pushed over a live connection.
type Message struct {
	ChatID   string
	Text     string
	FromSelf bool
}

// Event is a connection event. Exactly one of the optional fields is set,
// according to Type.
type Event struct {
	Type        EventType
	PairingCode string
	Message     Message
}

// Conn is one live tenant connection. The Events channel is closed when the
// connection terminates, expectedly or not; the owner decides which it was.
type Conn interface {
	// Send performs the platform action for the counterpart chat.
	// Payload keys are platform method arguments.
	Send(ctx context.Context, action, chatID string, payload map[string]any) error

	// Events delivers connection events until the connection terminates.
	Events() <-chan Event

	// Close tears the connection down on the platform side (webhook
	// deletion or socket logout) and releases local resources.
	Close(ctx context.Context) error
}

// Client opens and validates tenant connections for one platform flavor.
type Client interface {
	// Name identifies the platform, e.g. "telegram".
	Name() string

	// ValidateCredential checks the credential against the live platform.
	ValidateCredential(ctx context.Context, credential string) error

	// Open establishes a connection for the tenant. For webhook platforms
	// this registers the callback; for socket platforms it dials the
	// gateway and resumes or begins a session.
	Open(ctx context.Context, tenantID, credential string) (Conn, error)

	// Discard removes any session artifacts kept for the tenant.
	Discard(tenantID string) error
}
