// Package apperr defines the error kinds returned across the messaging
// backend boundary. Callers switch on Kind instead of message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotAuthenticated
	KindPermissionDenied
	KindNotFound
	KindConflict
	KindMessagingLocked
	KindFeatureUnavailable
	KindTransient
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindValidation:         "validation",
	KindNotAuthenticated:   "not_authenticated",
	KindPermissionDenied:   "permission_denied",
	KindNotFound:           "not_found",
	KindConflict:           "conflict",
	KindMessagingLocked:    "messaging_locked",
	KindFeatureUnavailable: "feature_unavailable",
	KindTransient:          "transient",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrLocked) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(err error, kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
// Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of the outermost *Error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Sentinels for errors.Is checks.
var (
	ErrLocked             = &Error{Kind: KindMessagingLocked, Message: "locked"}
	ErrNotAuthenticated   = &Error{Kind: KindNotAuthenticated, Message: "not authenticated"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrFeatureUnavailable = &Error{Kind: KindFeatureUnavailable, Message: "feature unavailable"}
)

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotAuthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindMessagingLocked:
		return http.StatusLocked
	case KindFeatureUnavailable, KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
