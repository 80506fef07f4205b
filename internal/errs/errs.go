// Package errs defines the failure kinds reported by the pipeline, the device
// transfer protocol and the job lifecycle.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal is any failure that does not fit a more specific kind.
	Internal Kind = iota
	// Input covers unreadable images and empty contour sets.
	Input
	// Handshake is fatal: the plotter never proved it was alive.
	Handshake
	// ReadinessTimeout means the plotter did not signal ready before a line.
	ReadinessTimeout
	// ChecksumMismatch means the plotter acknowledged a different checksum.
	ChecksumMismatch
	// AckTimeout means no OK line arrived after a line was written.
	AckTimeout
	// TransferAborted wraps the first per-line failure of a program send.
	TransferAborted
	// Canceled means the caller abandoned the work.
	Canceled
)

var kindNames = map[Kind]string{
	Internal:         "internal",
	Input:            "input",
	Handshake:        "handshake_failure",
	ReadinessTimeout: "readiness_timeout",
	ChecksumMismatch: "checksum_mismatch",
	AckTimeout:       "ack_timeout",
	TransferAborted:  "transfer_aborted",
	Canceled:         "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalText renders the kind by name so it reads well in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a failure tagged with its kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New tags err with kind and op. A nil err gets a generic message.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf tags a formatted message with kind and op.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost tagged error in err's chain.
// Untagged errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether any tagged error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
