// Package apperr is the gateway error taxonomy. Every error that reaches a
// caller is an *Error with a Kind and machine-readable Details.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuth                 Kind = "auth_error"
	KindValidation           Kind = "validation_error"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindRateLimited          Kind = "rate_limited"
	KindNoProvidersAvailable Kind = "no_providers_available"
	KindUpstream             Kind = "upstream_error"
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindConflict             Kind = "conflict"
	KindInternal             Kind = "internal_error"
)

// Codes carried by auth errors.
const (
	CodeMissingCredential  = "missing_credential"
	CodeInvalidCredential  = "invalid_credential"
	CodeInactiveCredential = "inactive_credential"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindQuotaExceeded, KindRateLimited:
		return http.StatusTooManyRequests
	case KindNoProvidersAvailable:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// With returns e with an extra detail field.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Detail(key string) (any, bool) {
	v, ok := e.Details[key]
	return v, ok
}

func New(kind Kind, code, msg string) *Error {
	if code == "" {
		code = string(kind)
	}
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: msg, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func Auth(code, msg string) *Error { return New(KindAuth, code, msg) }

func Validation(msg string) *Error { return New(KindValidation, "", msg) }

func NotFound(msg string) *Error { return New(KindNotFound, "", msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, "", msg) }

func Conflict(msg string) *Error { return New(KindConflict, "", msg) }

func Internal(msg string, err error) *Error { return Wrap(KindInternal, msg, err) }

func Upstream(msg string, err error) *Error { return Wrap(KindUpstream, msg, err) }
