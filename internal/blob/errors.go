package blob

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a remote blob no longer exists. Download batches
// treat it as non-fatal and continue.
var ErrNotFound = errors.New("remote blob not found")

// TransportError is a transient network-level failure. The task scheduler
// retries operations that fail with it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a terminal rejection by the remote store. The affected
// item is reported and not retried.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected %s: %s", e.Op, e.Reason)
}

// UnresolvedTypeError reports that neither a MIME type nor a file extension
// could be determined for an item. Terminal for that item.
type UnresolvedTypeError struct {
	Ref string
}

func (e *UnresolvedTypeError) Error() string {
	return fmt.Sprintf("cannot resolve media type for %s", e.Ref)
}

// ValidationError reports an invalid credential or destination during setup.
// Surfaced synchronously to the caller, never retried in the background.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("destination validation failed: %s", e.Reason)
}

// IsTransient reports whether err should be retried by the task scheduler.
func IsTransient(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
