// Package tenant defines tenant identity and connection state.
package tenant

// State is the lifecycle state of a tenant's platform connection.
type State int

const (
	// StateConnecting means the connection is being established or
	// re-established after an unexpected close.
	StateConnecting State = iota + 1
	// StateConnected means the platform reported the connection open.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "ABSENT"
	}
}

// Entry is a tenant row returned by the upstream platform directory:
// the tenant id plus the platform credential used to connect on its behalf.
// Credential is empty for socket platforms that pair interactively.
type Entry struct {
	ID         string
	Credential string
}

// Info is a read-only snapshot of a tenant's registry record.
type Info struct {
	ID       string
	State    State
	Attempts int
	Stopping bool
}
