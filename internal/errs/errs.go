// Package errs classifies the error kinds the ingestion pipeline must
// distinguish: which ones are fatal at startup, which trigger a broker
// reconnect, and which are simply logged and skipped so one bad message
// never halts ingestion.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags an error with the handling policy it requires.
type Kind string

const (
	// KindConfig is a missing or invalid configuration value. Fatal at startup.
	KindConfig Kind = "config"
	// KindBrokerTransient is a broker connection failure eligible for retry.
	KindBrokerTransient Kind = "broker_transient"
	// KindBrokerFatal is a broker failure after exhausting retries. Exit 2.
	KindBrokerFatal Kind = "broker_fatal"
	// KindParse is a malformed or unrecognized message payload. Log and drop.
	KindParse Kind = "parse"
	// KindInvariant is a violation of a flight-state invariant. Log and skip.
	KindInvariant Kind = "invariant"
	// KindClientIO is a downstream client write/read failure. Disconnect that client only.
	KindClientIO Kind = "client_io"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// handling policy with errors.As without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Config(op, format string, args ...any) *Error {
	return newf(KindConfig, op, format, args...)
}

func BrokerTransient(op string, err error) *Error {
	return &Error{Kind: KindBrokerTransient, Op: op, Err: err}
}

func BrokerFatal(op string, err error) *Error {
	return &Error{Kind: KindBrokerFatal, Op: op, Err: err}
}

func Parse(op string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

func Invariant(op, format string, args ...any) *Error {
	return newf(KindInvariant, op, format, args...)
}

func ClientIO(op string, err error) *Error {
	return &Error{Kind: KindClientIO, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
