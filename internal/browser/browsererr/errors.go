// Package browsererr defines the error taxonomy shared by every browser
// component. Callers classify failures with errors.Is against the sentinel
// kinds; the concrete *OpError carries the context needed for logging.
package browsererr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProtocol reports that the debugging protocol session was unavailable
	// or that a command issued over it failed.
	ErrProtocol = errors.New("protocol error")
	// ErrElementNotFound reports a selector or index that resolved to nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrTimeout reports an operation that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrValidation reports an invalid argument or an unknown preset.
	ErrValidation = errors.New("validation error")
	// ErrSurfaceDestroyed reports that the content surface is gone.
	ErrSurfaceDestroyed = errors.New("surface destroyed")
)

// OpError is the structured error returned by surface level operations.
type OpError struct {
	Op       string
	Kind     error
	URL      string
	Selector string
	X, Y     *float64
	Err      error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Selector != "" {
		fmt.Fprintf(&b, " (selector %q)", e.Selector)
	}
	if e.X != nil && e.Y != nil {
		fmt.Fprintf(&b, " (at %.0f,%.0f)", *e.X, *e.Y)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " on %s", e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an OpError of the given kind.
func New(op string, kind error, cause error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: cause}
}

// WithSelector annotates the error with the selector that was used.
func (e *OpError) WithSelector(selector string) *OpError {
	e.Selector = selector
	return e
}

// WithPoint annotates the error with the coordinates that were targeted.
func (e *OpError) WithPoint(x, y float64) *OpError {
	e.X, e.Y = &x, &y
	return e
}

// WithURL annotates the error with the page URL at the time of failure.
func (e *OpError) WithURL(url string) *OpError {
	e.URL = url
	return e
}

// Protocol wraps a failed protocol command.
func Protocol(op string, cause error) error {
	return New(op, ErrProtocol, cause)
}

// Validation builds a validation error with a formatted message.
func Validation(op, format string, args ...any) error {
	return New(op, ErrValidation, fmt.Errorf(format, args...))
}

// Kind returns the taxonomy sentinel matched by err, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrSurfaceDestroyed, ErrValidation, ErrElementNotFound, ErrTimeout, ErrProtocol} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
