package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors for callers and transports.
type ErrorKind string

// Error kinds
const (
	KindConflict   ErrorKind = "conflict"
	KindForbidden  ErrorKind = "forbidden"
	KindValidation ErrorKind = "validation_failed"
	KindNotFound   ErrorKind = "not_found"
)

// Reason refines a claim-related error.
type Reason string

// Claim reasons
const (
	ReasonNoneAvailable Reason = "none_available"
	ReasonNotClaimable  Reason = "not_claimable"
	ReasonNotClaimed    Reason = "not_claimed"
)

// Error is a terminal, structured engine error. Field or Hook names the
// offending input so the caller can correct it; Index is set for batch
// operations.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Reason  Reason    `json:"reason,omitempty"`
	Field   string    `json:"field,omitempty"`
	Hook    string    `json:"hook,omitempty"`
	Index   *int      `json:"index,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	switch {
	case e.Hook != "":
		msg = fmt.Sprintf("hook %s: %s", e.Hook, msg)
	case e.Field != "":
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Index != nil {
		msg = fmt.Sprintf("item %d: %s", *e.Index, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithIndex returns a copy of e tagged with a batch index.
func (e *Error) WithIndex(i int) *Error {
	c := *e
	c.Index = &i
	return &c
}

// NewConflict builds a Conflict error.
func NewConflict(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// NewForbidden builds a Forbidden error.
func NewForbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// NewValidation builds a ValidationFailed error naming the offending field.
func NewValidation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewHookRejected builds a ValidationFailed error naming the hook.
func NewHookRejected(hook, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Hook: hook, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound builds a NotFound error.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NoneAvailable is returned when no candidate survives filtering.
func NoneAvailable() *Error {
	return NewConflict(ReasonNoneAvailable, "no claimable task available")
}

// NotClaimable is returned when a named task fails a claim filter.
func NotClaimable(identifier, why string) *Error {
	return NewConflict(ReasonNotClaimable, "%s is not claimable: %s", identifier, why)
}

// NotClaimed is returned when unclaiming a task that holds no claim.
func NotClaimed(identifier string) *Error {
	e := NewValidation("status", "%s is not claimed", identifier)
	e.Reason = ReasonNotClaimed
	return e
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" if err is not a structured error.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
