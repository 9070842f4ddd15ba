package client

import (
	"errors"
	"fmt"
)

// ErrWaitTimeout reports that WaitForFree exhausted the configured wait
// timeout while the resource stayed reserved.
var ErrWaitTimeout = errors.New("wait timeout exceeded")

// ErrStillReserved reports that a reserve call could not be confirmed: the
// resource was still held after the attempt, typically because another
// process won the race between our poll and our reserve.
var ErrStillReserved = errors.New("resource still reserved")

// APIError describes an unexpected HTTP response from the lock service.
type APIError struct {
	// Status is the HTTP status code returned by the service.
	Status int
	// Body contains the raw response body bytes for diagnostics.
	Body []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lock service: status %d", e.Status)
}
