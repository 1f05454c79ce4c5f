// Package apperr holds the typed error vocabulary shared by the Control
// Surface and the Stream Multiplexer, so a failure raised deep in a driver
// or store carries enough information to pick an HTTP status or a
// WebSocket close code without string-matching error text.
package apperr

import (
	"errors"
	"net/http"
)

// Kind categorises an error into one of the platform's fixed failure
// families.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindProvisioning Kind = "provisioning"
	KindSession      Kind = "session"
	KindIO           Kind = "io"
	KindConfig       Kind = "config"
	KindTransient    Kind = "transient"
	KindNotFound     Kind = "not_found"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an operation label.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindIO when err carries
// no typed kind.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindIO
}

// HTTPStatus maps a Kind onto the HTTP status the Control Surface should
// answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindProvisioning:
		return http.StatusServiceUnavailable
	case KindSession:
		return http.StatusConflict
	case KindConfig:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WebSocket close codes used by the Stream Multiplexer, all taken from the
// registered RFC 6455 range.
const (
	WSCloseNormal       = 1000
	WSClosePolicy       = 1008
	WSCloseInternal     = 1011
	WSCloseTryAgain     = 1013
)

// WSCloseCode maps a Kind onto the WebSocket close code the multiplexer
// should send before dropping a connection.
func WSCloseCode(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return WSClosePolicy
	case KindTransient:
		return WSCloseTryAgain
	case KindProvisioning, KindSession, KindNotFound, KindConfig:
		return WSClosePolicy
	default:
		return WSCloseInternal
	}
}
