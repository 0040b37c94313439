package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// Temporary returns true if the Error might be the result of a transient condition. For
	// example, calling Start on a session that is already scanning is harmless and resolves
	// itself once the current scan stops.
	Temporary() bool
}

var (
	// ErrAlreadyActive indicates Start was called while the session was authorizing or scanning.
	// The call had no effect.
	ErrAlreadyActive = NewError("scan session is already active", true)
	// ErrScanCanceled indicates Stop was called while the session was still waiting for
	// permissions. The scan was never started.
	ErrScanCanceled = NewError("scan stopped before authorization completed", false)
	// ErrNotTilt indicates an advertisement is a valid iBeacon but does not carry a Tilt UUID.
	ErrNotTilt = errors.New("advertisement is not from a Tilt hydrometer")
	// ErrNotIBeacon indicates manufacturer data does not use the iBeacon layout.
	ErrNotIBeacon = errors.New("manufacturer data is not an iBeacon")
)

type ScanError struct {
	Err               error
	PossibleTemporary bool
}

func NewError(message string, temporary bool) error {
	return &ScanError{Err: errors.New(message), PossibleTemporary: temporary}
}

func (e *ScanError) Error() string {
	return e.Err.Error()
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

func (e *ScanError) Temporary() bool {
	return e.PossibleTemporary
}

// ScanFailedError is reported when the native layer aborts a scan through its error callback.
type ScanFailedError struct {
	Message string
}

func (e *ScanFailedError) Error() string {
	return "native scan failed: " + e.Message
}

func (e *ScanFailedError) Temporary() bool {
	return true
}

// DecodeWarning describes a single advertisement event that could not be turned into a reading.
// Warnings never end a scan.
type DecodeWarning struct {
	Field  string
	Reason string
}

func (w *DecodeWarning) Error() string {
	if w.Field == "" {
		return "malformed event: " + w.Reason
	}
	return fmt.Sprintf("malformed event: field '%s' %s", w.Field, w.Reason)
}

func (w *DecodeWarning) Temporary() bool {
	return true
}

// DefaultLinkSteps are the remediation steps listed by a LinkError when the caller does not
// supply more specific ones.
var DefaultLinkSteps = []string{
	"You built the binary for a platform with a supported Bluetooth backend",
	"The Bluetooth stack is installed and running (bluez and dbus on Linux)",
	"You are not running inside a container or sandbox without access to the Bluetooth adapter",
}

// LinkError indicates the native scanning module is not available. It is returned by every
// call into the native surface; it is never retried.
type LinkError struct {
	Module string
	Cause  error
	Steps  []string
}

func (e *LinkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "the native module '%s' doesn't seem to be linked", e.Module)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%s)", e.Cause)
	}
	steps := e.Steps
	if len(steps) == 0 {
		steps = DefaultLinkSteps
	}
	b.WriteString(". Make sure:\n\n")
	for _, step := range steps {
		b.WriteString("- ")
		b.WriteString(step)
		b.WriteString("\n")
	}
	return b.String()
}

func (e *LinkError) Unwrap() error {
	return e.Cause
}

func (e *LinkError) Temporary() bool {
	return false
}

// IsLinkError returns true if err is or wraps a LinkError.
func IsLinkError(err error) bool {
	var linkErr *LinkError
	return errors.As(err, &linkErr)
}

// Temporary returns true if err is an Error that indicates the failure was caused by possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var e Error
	if errors.As(err, &e) && e.Temporary() {
		return true
	}
	return false
}
