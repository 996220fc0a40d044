package errors

import (
	"fmt"
)

// ErrUpdateInProgress is returned when another update attempt holds the
// installation's lock.
var ErrUpdateInProgress = New("another update is already in progress")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// FetchFailed is returned when the release archive couldn't be retrieved.
// The installation hasn't been touched.
type FetchFailed struct {
	URL   string
	Cause error
}

func (err FetchFailed) Error() string {
	return fmt.Sprintf("fetch release archive %q: %s", err.URL, err.Cause)
}

func (err FetchFailed) Unwrap() error {
	return err.Cause
}

// ExtractionFailed is returned when the release archive couldn't be
// extracted into the staging directory. The installation hasn't been touched.
type ExtractionFailed struct {
	Archive string
	Cause   error
}

func (err ExtractionFailed) Error() string {
	return fmt.Sprintf("extract release archive %q: %s", err.Archive, err.Cause)
}

func (err ExtractionFailed) Unwrap() error {
	return err.Cause
}

// CorruptStateError is returned when the tracking manifest exists but can't
// be parsed. It's never treated as an empty manifest, since deleting the file
// is the supported way of forcing a resync.
type CorruptStateError struct {
	Path  string
	Cause error
}

func (err CorruptStateError) Error() string {
	return fmt.Sprintf("tracking state %q is corrupt: %s", err.Path, err.Cause)
}

func (err CorruptStateError) Unwrap() error {
	return err.Cause
}

func (err CorruptStateError) FriendlyMessage() string {
	return fmt.Sprintf("The update tracking file %q could not be parsed.\n"+
		"Delete it to force a full resync on the next update.\n\n"+
		"Parser error: %s", err.Path, err.Cause)
}

// UpdateFailed is returned when an update failed after the installation
// started being mutated. By the time it's returned, the installation has been
// restored from the backup snapshot.
type UpdateFailed struct {
	Cause error

	// RestoreErr is set if some paths could not be restored.
	RestoreErr error
}

func (err UpdateFailed) Error() string {
	if err.RestoreErr != nil {
		return fmt.Sprintf("update failed: %s (restore incomplete: %s)", err.Cause, err.RestoreErr)
	}
	return fmt.Sprintf("update failed and was rolled back: %s", err.Cause)
}

func (err UpdateFailed) Unwrap() error {
	return err.Cause
}
