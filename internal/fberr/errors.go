// Package fberr defines the error taxonomy shared across the firebirdsql
// client: every error that crosses a package boundary is wrapped into a
// *Error carrying one of the fixed Kinds below, except connection-URL
// parse errors from firebirdsql.ParseURL, which are plain errors.
package fberr

import "fmt"

// Kind classifies an Error without requiring callers to match on type names.
type Kind int

const (
	// Network covers socket closed, timeout, and connection-refused conditions.
	Network Kind = iota
	// Protocol covers malformed frames, unexpected operation codes, and
	// unsupported protocol versions.
	Protocol
	// AuthFailed covers rejected SRP proofs, bad credentials, and plugin
	// negotiation failures.
	AuthFailed
	// Server wraps a status vector returned by the server.
	Server
	// Statement tags a Server error with prepare/execute/fetch context.
	Statement
	// TypeMismatch covers parameter binding incompatible with a column's
	// declared transmission form.
	TypeMismatch
	// Pool covers pool timeout, pool closed, and pool misconfiguration.
	Pool
	// Internal covers violated invariants that should not occur.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Protocol:
		return "protocol"
	case AuthFailed:
		return "auth_failed"
	case Server:
		return "server"
	case Statement:
		return "statement"
	case TypeMismatch:
		return "type_mismatch"
	case Pool:
		return "pool"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// StatusItem is one (sqlcode, gds-code, message) tuple from a Firebird
// status vector.
type StatusItem struct {
	SQLCode int32
	GDSCode int32
	Message string
}

// Error is the concrete error type returned by the exported calls in this
// module (connection-URL parse errors excepted). Callers branch on Kind
// rather than matching a type per failure mode.
type Error struct {
	Kind    Kind
	Message string
	Status  []StatusItem // populated for Kind == Server or Kind == Statement
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("firebirdsql: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("firebirdsql: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// FromStatus builds a Server (or Statement, if stmtContext is non-empty)
// error from a decoded status vector, interpolating each item's message
// from the catalogue.
func FromStatus(items []StatusItem, stmtContext string) *Error {
	kind := Server
	msg := "server returned an error status"
	if stmtContext != "" {
		kind = Statement
		msg = stmtContext
	}
	for i := range items {
		items[i].Message = Interpolate(items[i].GDSCode, items[i].Message)
	}
	return &Error{Kind: kind, Message: msg, Status: items}
}
