// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrUnauthorized indicates a missing, malformed, expired, or otherwise
// unacceptable service token. All verification failures map here so callers
// cannot distinguish why a token was rejected.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidCredential indicates the platform rejected a tenant's credential.
var ErrInvalidCredential = errors.New("invalid platform credential")

// ErrAlreadyActive indicates a start request for a tenant that already has a
// live or in-progress connection.
var ErrAlreadyActive = errors.New("tenant already active")

// ErrNotFound indicates the requested tenant does not exist in the registry.
var ErrNotFound = errors.New("not found")

// ErrStopped indicates an operation was abandoned because a manual stop was
// requested for the tenant while it was in flight.
var ErrStopped = errors.New("tenant stopped")
