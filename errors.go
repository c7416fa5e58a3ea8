package reststorage

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned at call time when a backend does not support
// an operation or option. It is never returned together with a partially
// completed result.
var ErrNotImplemented = errors.New("operation not implemented by storage backend")

// ErrAdmissionRejected is returned when a write is refused because the
// backend memory usage is at or above the caller's importance level.
var ErrAdmissionRejected = errors.New("insufficient storage")

// ErrConflict is returned by StagedWriter.Commit when, between staging and
// commit, the path became a collection, an ancestor became a document or a
// rejecting lock was taken by another owner.
var ErrConflict = errors.New("conflicting resource")

// NonEmptyCollectionMessage is reported on the resource when deleting a
// collection that still has children without recursive confirmation.
const NonEmptyCollectionMessage = "directory not empty. Use recursive=true parameter to delete"

// InvalidPathError is returned when a path cannot be canonicalized.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (err InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", err.Path, err.Reason)
}

// BadRequestError reports a malformed request parameter.
type BadRequestError struct {
	Param  string
	Value  string
	Reason string
}

func (err BadRequestError) Error() string {
	if err.Reason != "" {
		return fmt.Sprintf("Invalid %s: %s (%s)", err.Param, err.Value, err.Reason)
	}
	return fmt.Sprintf("Invalid %s: %s", err.Param, err.Value)
}

// BackendUnavailableError wraps a failure of the underlying store or
// filesystem. Results returned with it are always *Missing.
type BackendUnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (err BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", err.Backend, err.Op, err.Err)
}

func (err BackendUnavailableError) Unwrap() error {
	return err.Err
}

// IsBadRequest reports whether err was caused by caller input.
func IsBadRequest(err error) bool {
	var br BadRequestError
	var ip InvalidPathError
	return errors.As(err, &br) || errors.As(err, &ip)
}

// IsBackendUnavailable reports whether err wraps a backend failure.
func IsBackendUnavailable(err error) bool {
	var bu BackendUnavailableError
	return errors.As(err, &bu)
}
