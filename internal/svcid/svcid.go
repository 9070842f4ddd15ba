// Package svcid generates the identifiers assetlock stamps on sessions and
// outbound lock-service requests.
package svcid

import (
	"github.com/google/uuid"
	"github.com/rs/xid"
)

// NewCorrelationID returns a time-ordered UUIDv7 string suitable for the
// X-Correlation-ID request header.
func NewCorrelationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewSessionID returns a compact, sortable identifier for a lock session.
func NewSessionID() string {
	return xid.New().String()
}
