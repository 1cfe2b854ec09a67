// Package errs defines the error taxonomy shared across the index: which
// failures are recoverable (logged and retried by the do-list) and which
// are fatal to the process.
package errs

import "errors"

// ErrProtocol marks unknown tags, truncated frames from a confirmed-complete
// source, or an element of the wrong type where another was expected.
// Never fatal: the caller logs, bumps an error counter, and may reply with
// MSG_RECEIVED{status=PARSE_ERR}.
var ErrProtocol = errors.New("protocol error")

// ErrTransport marks a send/recv/connect failure. The current command is
// dropped; the do-list retries on its own schedule.
var ErrTransport = errors.New("transport error")

// ErrShiftConflict marks a right neighbor's range observed smaller than
// ours when preparing to shift. The shift cycle is skipped.
var ErrShiftConflict = errors.New("shift conflict")

// ErrDuplicateKeyMismatch marks an insert for an existing key with a
// diverging (chunk, subchunk) value. Not propagated to peers.
var ErrDuplicateKeyMismatch = errors.New("duplicate key mismatch")

// ErrConfig marks a missing required option or malformed config value.
// Fatal at startup.
var ErrConfig = errors.New("config error")

// ErrFatalTopology marks more than one worker reporting unlimited=true.
// Requires operator intervention.
var ErrFatalTopology = errors.New("fatal topology error")

// Protocol wraps err as an ErrProtocol.
func Protocol(format string, err error) error {
	if err != nil {
		return errorf(format, ErrProtocol, err)
	}
	return errorf(format, ErrProtocol, nil)
}

// Transport wraps err as an ErrTransport.
func Transport(format string, err error) error {
	return errorf(format, ErrTransport, err)
}

// ShiftConflict returns an error with message format that matches ErrShiftConflict.
func ShiftConflict(format string) error {
	return errorf(format, ErrShiftConflict, nil)
}

// DuplicateKeyMismatch returns an error with message format that matches
// ErrDuplicateKeyMismatch.
func DuplicateKeyMismatch(format string) error {
	return errorf(format, ErrDuplicateKeyMismatch, nil)
}

// Config wraps err as an ErrConfig.
func Config(format string, err error) error {
	return errorf(format, ErrConfig, err)
}

// FatalTopology returns an error with message format that matches ErrFatalTopology.
func FatalTopology(format string) error {
	return errorf(format, ErrFatalTopology, nil)
}

func errorf(msg string, sentinel error, cause error) error {
	if cause != nil {
		return &taggedError{msg: msg, sentinel: sentinel, cause: cause}
	}
	return &taggedError{msg: msg, sentinel: sentinel}
}

type taggedError struct {
	msg      string
	sentinel error
	cause    error
}

func (e *taggedError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *taggedError) Unwrap() error {
	if e.cause != nil {
		return errors.Join(e.sentinel, e.cause)
	}
	return e.sentinel
}

// IsFatal reports whether err should terminate the process (config or
// topology invariant violations), per the propagation policy in the error
// handling design.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrFatalTopology)
}
