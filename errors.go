package assetlock

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks across the allocation taxonomy.
var (
	// ErrAlreadyAllocated marks identifiers already held by this process's
	// lock session. Non-retryable within the same process.
	ErrAlreadyAllocated = errors.New("asset already allocated by this task")
	// ErrFoundButReserved marks candidates that exist but are held remotely.
	// Retryable by the caller; the allocator does not retry past exhaustion.
	ErrFoundButReserved = errors.New("asset found but reserved")
	// ErrNotFound marks searches where no finder produced any candidate.
	ErrNotFound = errors.New("asset not found")
)

// AlreadyAllocatedError reports a re-acquisition attempt for an identifier
// this process already holds.
type AlreadyAllocatedError struct {
	ID string
}

func (e *AlreadyAllocatedError) Error() string {
	return fmt.Sprintf("asset %q already allocated by this task", e.ID)
}

func (e *AlreadyAllocatedError) Is(target error) bool {
	return target == ErrAlreadyAllocated
}

// ReservedError reports that candidates were found but every claim failed on
// remote contention.
type ReservedError struct {
	ID string
}

func (e *ReservedError) Error() string {
	return fmt.Sprintf("asset %q found but reserved by another task", e.ID)
}

func (e *ReservedError) Is(target error) bool {
	return target == ErrFoundButReserved
}

// NotFoundError reports that no finder produced a candidate for the term.
type NotFoundError struct {
	Term string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset %q not found", e.Term)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
