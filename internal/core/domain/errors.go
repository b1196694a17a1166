package domain

import "fmt"

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindInvalidState ErrorKind = "invalid_state"
	KindConflict     ErrorKind = "conflict"
	KindPersistence  ErrorKind = "persistence"
	KindDelivery     ErrorKind = "delivery"
	KindHandler      ErrorKind = "handler"
)

// Error is a failure tagged with a kind so callers can branch with errors.Is
// against the sentinels below without string matching.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Message: "invalid state transition"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "concurrent modification"}
	ErrPersistence     = &Error{Kind: KindPersistence, Message: "persistence failure"}
	ErrDeliveryFailure = &Error{Kind: KindDelivery, Message: "delivery failure"}
	ErrHandlerFailure  = &Error{Kind: KindHandler, Message: "handler failure"}
)

func NewValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(entity, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func NewInvalidStateError(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(entity, id string) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s %s was modified concurrently", entity, id)}
}

func WrapPersistence(message string, cause error) error {
	return &Error{Kind: KindPersistence, Message: message, Cause: cause}
}

func WrapDelivery(message string, cause error) error {
	return &Error{Kind: KindDelivery, Message: message, Cause: cause}
}

func WrapHandler(message string, cause error) error {
	return &Error{Kind: KindHandler, Message: message, Cause: cause}
}
