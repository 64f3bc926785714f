package fault

import "errors"

// Kind classifies a failure so callers can react without knowing which
// package produced it.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthorization    Kind = "authorization"
	KindNotFound         Kind = "not_found"
	KindInvalidState     Kind = "invalid_state"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindConflict         Kind = "conflict"
)

// Error is a classified error. Two errors match under errors.Is when the
// target is a bare kind sentinel (no message) of the same kind, or when they
// are the same value.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthorization    = &Error{Kind: KindAuthorization}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrConflict         = &Error{Kind: KindConflict}
)

func Validation(msg string) *Error       { return &Error{Kind: KindValidation, Msg: msg} }
func Authorization(msg string) *Error    { return &Error{Kind: KindAuthorization, Msg: msg} }
func NotFound(msg string) *Error         { return &Error{Kind: KindNotFound, Msg: msg} }
func InvalidState(msg string) *Error     { return &Error{Kind: KindInvalidState, Msg: msg} }
func CapacityExceeded(msg string) *Error { return &Error{Kind: KindCapacityExceeded, Msg: msg} }
func Conflict(msg string) *Error         { return &Error{Kind: KindConflict, Msg: msg} }

// KindOf returns the kind of the first classified error in err's chain, or an
// empty kind for unclassified (infrastructure) errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
