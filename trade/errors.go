package trade

import (
	"errors"
	"fmt"
	"strings"
)

// Class categorizes a lifecycle error for the boundary layer.
type Class string

const (
	ClassValidation Class = "validation"
	ClassNotFound   Class = "not_found"
	ClassForbidden  Class = "forbidden"
	ClassConflict   Class = "conflict"
)

// Error is one classified, human-readable violation.
type Error struct {
	Class   Class  `json:"class"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	return e.Message
}

// ErrorList is the failure result of a lifecycle operation: an ordered set of
// every violation found, not just the first. It crosses the engine boundary
// as data; the engine never panics and never logs on behalf of the caller.
type ErrorList struct {
	errs []Error
}

// NewErrorList creates a list pre-seeded with the given errors.
func NewErrorList(errs ...Error) *ErrorList {
	return &ErrorList{errs: errs}
}

// Add appends a classified error.
func (l *ErrorList) Add(class Class, format string, args ...any) {
	l.errs = append(l.errs, Error{Class: class, Message: fmt.Sprintf(format, args...)})
}

// Append merges another list's errors, preserving order.
func (l *ErrorList) Append(other *ErrorList) {
	if other == nil {
		return
	}
	l.errs = append(l.errs, other.errs...)
}

// HasErrors reports whether any violation was recorded.
func (l *ErrorList) HasErrors() bool {
	return len(l.errs) > 0
}

// Errors returns the recorded violations in order.
func (l *ErrorList) Errors() []Error {
	return l.errs
}

// Messages returns the human-readable messages in order.
func (l *ErrorList) Messages() []string {
	msgs := make([]string, len(l.errs))
	for i, e := range l.errs {
		msgs[i] = e.Message
	}
	return msgs
}

func (l *ErrorList) Error() string {
	if len(l.errs) == 0 {
		return "trade: no errors"
	}
	return fmt.Sprintf("trade: %s", strings.Join(l.Messages(), "; "))
}

// Worst returns the dominant class for HTTP status mapping. NotFound beats
// Forbidden beats Conflict beats Validation.
func (l *ErrorList) Worst() Class {
	precedence := []Class{ClassNotFound, ClassForbidden, ClassConflict}
	for _, class := range precedence {
		for _, e := range l.errs {
			if e.Class == class {
				return class
			}
		}
	}
	return ClassValidation
}

// AsErrorList extracts an ErrorList from an operation error.
func AsErrorList(err error) (*ErrorList, bool) {
	var list *ErrorList
	if errors.As(err, &list) {
		return list, true
	}
	return nil, false
}

func notFound(format string, args ...any) *ErrorList {
	l := &ErrorList{}
	l.Add(ClassNotFound, format, args...)
	return l
}

func forbidden(format string, args ...any) *ErrorList {
	l := &ErrorList{}
	l.Add(ClassForbidden, format, args...)
	return l
}

func conflict(format string, args ...any) *ErrorList {
	l := &ErrorList{}
	l.Add(ClassConflict, format, args...)
	return l
}

// pgError is the surface of a Postgres driver error carrying a SQLSTATE.
type pgError interface {
	error
	Field(field byte) string
}

// asConflict converts a Postgres serialization or deadlock abort into a
// Conflict-class error list. Of two transactions racing on one trade the loser
// is aborted with SQLSTATE 40001 when the winner commits; to the caller that
// is the same situation as finding the trade already closed, so it reports the
// same class. Every other error passes through untouched.
func asConflict(err error) error {
	if err == nil {
		return nil
	}
	var pge pgError
	if errors.As(err, &pge) {
		switch pge.Field('C') {
		case "40001", "40P01":
			return conflict("This trade was modified by a concurrent operation. Please retry.")
		}
	}
	return err
}
