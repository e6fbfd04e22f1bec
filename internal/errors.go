package gateway

import (
	"errors"
	"net/http"
)

// Kind is the semantic error category used by the HTTP edge to pick a
// status code and machine-readable type. Components raise typed errors;
// only the HTTP edge maps them to a wire shape.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthentication
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidAppState
	KindServiceUnavailable
	KindInternalServer
)

func (k Kind) httpStatus() int {
	switch k {
	case KindValidation, KindInvalidAppState:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) errType() string {
	switch k {
	case KindValidation:
		return "invalid_request_error"
	case KindAuthentication:
		return "authentication_error"
	case KindForbidden:
		return "authentication_error"
	case KindNotFound:
		return "not_found_error"
	case KindConflict:
		return "invalid_request_error"
	case KindInvalidAppState:
		return "invalid_app_state"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal_server_error"
	}
}

// Error is a typed domain error carrying an HTTP status and a
// machine-readable code, e.g. "token_error-token_inactive". Components
// wrap lower-level errors with %w so errors.Is/errors.As keep working
// across package boundaries.
type Error struct {
	kind    Kind
	code    string
	message string
	err     error
}

func newErr(k Kind, code, message string) *Error {
	return &Error{kind: k, code: code, message: message}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.err }

// HTTPStatus reports the status code the HTTP edge should use for e.
func (e *Error) HTTPStatus() int { return e.kind.httpStatus() }

// Code returns the machine-readable error code.
func (e *Error) Code() string { return e.code }

// Type returns the OpenAI-style error type string.
func (e *Error) Type() string { return e.kind.errType() }

// Message returns the English-language message. Localization happens via
// an external dictionary keyed on Code, never here.
func (e *Error) Message() string { return e.message }

// Wrap attaches a lower-level cause to e, returning a new *Error so the
// original e is never mutated.
func (e *Error) Wrap(cause error) *Error {
	return &Error{kind: e.kind, code: e.code, message: e.message, err: cause}
}

// Constructors, one per taxonomy entry. Each returns a fresh
// *Error so callers can Wrap a cause without sharing state.
func NewValidation(code, message string) *Error {
	return newErr(KindValidation, code, message)
}

func NewAuthentication(code, message string) *Error {
	return newErr(KindAuthentication, code, message)
}

func NewForbidden(code, message string) *Error {
	return newErr(KindForbidden, code, message)
}

func NewNotFound(code, message string) *Error {
	return newErr(KindNotFound, code, message)
}

func NewConflict(code, message string) *Error {
	return newErr(KindConflict, code, message)
}

func NewInvalidAppState(code, message string) *Error {
	return newErr(KindInvalidAppState, code, message)
}

func NewServiceUnavailable(code, message string) *Error {
	return newErr(KindServiceUnavailable, code, message)
}

func NewInternalServer(code, message string) *Error {
	return newErr(KindInternalServer, code, message)
}

// Sentinel errors for cases callers only need to compare with errors.Is.
var (
	ErrNotFound      = NewNotFound("entity_error-not_found", "resource not found")
	ErrAliasNotFound = NewNotFound("alias_not_found_error", "alias not found")
	ErrAliasExists   = NewConflict("alias_error-alias_exists", "alias already exists")
	ErrTokenInactive = NewAuthentication("token_error-token_inactive", "token is inactive")
	ErrMissingAuth   = NewAuthentication("authentication_error-missing_auth", "missing credentials")
	ErrScopeEmpty    = NewAuthentication("token_error-scope_empty", "exchanged token carries no scope")
	ErrStateMismatch = NewAuthentication("auth_error-state_mismatch", "oauth state mismatch")
	ErrAlreadySetup  = NewInvalidAppState("app_service_error-already_setup", "application is already set up")
)

// HTTPStatusOf returns the status code an error should produce at the
// HTTP edge, defaulting to 500 for errors that never declared a Kind.
func HTTPStatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine-readable code of err, or "" if it is not a
// typed domain error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ""
}

// TypeOf returns the OpenAI-style error type of err, defaulting to
// "internal_server_error".
func TypeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type()
	}
	return "internal_server_error"
}

// MessageOf returns the English message of err, falling back to
// err.Error() for untyped errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}
