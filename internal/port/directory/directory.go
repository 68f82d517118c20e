// Package directory defines the upstream platform-registry port (interface).
package directory

import (
	"context"

	"github.com/bleam/bridge/internal/domain/tenant"
)

// Source lists the tenants that should have live connections.
type Source interface {
	// ActiveTenants returns the active tenant list with credentials.
	ActiveTenants(ctx context.Context) ([]tenant.Entry, error)
}
