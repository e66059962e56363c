// Package apperror defines the failure taxonomy shared by the secret lookup,
// the API key gate and the OAuth flow manager, and maps it onto HTTP statuses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindForbidden
	KindDisabled
	KindMisconfigured
	KindBadRequest
	KindNotFound
	KindConflict
	// KindProvider is a non-2xx answer from the token endpoint.
	KindProvider
	// KindGrantRevoked is an invalid_grant answer to a refresh; the stored entry has been cleared.
	KindGrantRevoked
	// KindUpstream means the token endpoint could not be reached or timed out.
	KindUpstream
)

var kindNames = map[Kind]string{
	KindInternal:      "internal",
	KindForbidden:     "forbidden",
	KindDisabled:      "disabled",
	KindMisconfigured: "misconfigured",
	KindBadRequest:    "bad_request",
	KindNotFound:      "not_found",
	KindConflict:      "conflict",
	KindProvider:      "provider_error",
	KindGrantRevoked:  "grant_revoked",
	KindUpstream:      "upstream_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure with a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that keeps err in the chain.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Forbidden is returned by the API key gate.
func Forbidden() *Error {
	return New(KindForbidden, "Forbidden")
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Message returns the caller-facing message for err. Unclassified errors
// are reported generically so internal details do not leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return http.StatusText(http.StatusInternalServerError)
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindForbidden:
		return http.StatusForbidden
	case KindDisabled, KindBadRequest, KindProvider, KindGrantRevoked:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
