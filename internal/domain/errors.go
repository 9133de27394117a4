package domain

import (
	"fmt"
	"strings"
)

// Kind classifies a ledger failure so callers can branch without parsing messages.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConstraintViolation Kind = "constraint_violation"
	KindInvariantViolation  Kind = "invariant_violation"
	KindReasonRequired      Kind = "reason_required"
	KindInvalidAmount       Kind = "invalid_amount"
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindImmutable           Kind = "immutable"
	KindInvalidInput        Kind = "invalid_input"
	KindIncompatibleSchema  Kind = "incompatible_schema"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConstraintViolation = &Error{Kind: KindConstraintViolation}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
	ErrReasonRequired      = &Error{Kind: KindReasonRequired}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrImmutable           = &Error{Kind: KindImmutable}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrIncompatibleSchema  = &Error{Kind: KindIncompatibleSchema}
)

// Error carries the kind of failure plus the entity, key and field it concerns.
type Error struct {
	Kind    Kind
	Entity  string
	ID      int64
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != 0 {
			fmt.Fprintf(&b, " #%d", e.ID)
		}
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NotFound(entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

func ConstraintViolation(entity string, field string, message string) *Error {
	return &Error{Kind: KindConstraintViolation, Entity: entity, Field: field, Message: message}
}

func InvariantViolation(entity string, id int64, message string) *Error {
	return &Error{Kind: KindInvariantViolation, Entity: entity, ID: id, Message: message}
}

func ReasonRequired(entity string, id int64) *Error {
	return &Error{Kind: KindReasonRequired, Entity: entity, ID: id, Field: "reason", Message: "a non-empty reason is required"}
}

func InvalidAmount(field string, message string) *Error {
	return &Error{Kind: KindInvalidAmount, Entity: string(EntitySettlement), Field: field, Message: message}
}

func Unauthenticated(operation string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: operation + " requires an acting user"}
}

func Forbidden(entity string, id int64, message string) *Error {
	return &Error{Kind: KindForbidden, Entity: entity, ID: id, Message: message}
}

func Immutable(entity string, id int64) *Error {
	return &Error{Kind: KindImmutable, Entity: entity, ID: id, Message: "submitted entries cannot be modified by their originating role"}
}

func InvalidInput(entity string, field string, message string) *Error {
	return &Error{Kind: KindInvalidInput, Entity: entity, Field: field, Message: message}
}

func IncompatibleSchema(collection string, message string) *Error {
	return &Error{Kind: KindIncompatibleSchema, Entity: collection, Message: message}
}
