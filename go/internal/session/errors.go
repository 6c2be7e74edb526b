package session

import (
	"errors"
	"fmt"
)

// Code classifies errors reported back to clients
type Code string

const (
	CodeValidation    Code = "ValidationError"
	CodeNotFound      Code = "NotFound"
	CodeAlreadyMember Code = "AlreadyMember"
	CodeNotMember     Code = "NotMember"
	CodeFull          Code = "Full"
	CodeInProgress    Code = "InProgress"
	CodeForbidden     Code = "Forbidden"
	CodeInternal      Code = "InternalError"
)

// Error is a client-facing session error. Two Errors match under errors.Is
// when their codes are equal.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrValidation    = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrNotFound      = &Error{Code: CodeNotFound, Message: "lobby not found"}
	ErrAlreadyMember = &Error{Code: CodeAlreadyMember, Message: "already in a lobby"}
	ErrNotMember     = &Error{Code: CodeNotMember, Message: "not a member of this lobby"}
	ErrFull          = &Error{Code: CodeFull, Message: "lobby is full"}
	ErrInProgress    = &Error{Code: CodeInProgress, Message: "race in progress"}
	ErrForbidden     = &Error{Code: CodeForbidden, Message: "not allowed"}
	ErrInternal      = &Error{Code: CodeInternal, Message: "internal error"}
)

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Describe maps err to the code and message a client may see. Anything that
// is not a *Error is reported as InternalError without detail.
func Describe(err error) (Code, string) {
	var se *Error
	if errors.As(err, &se) {
		return se.Code, se.Message
	}
	return CodeInternal, ErrInternal.Message
}
