// Package apperr defines the error taxonomy shared by the domain services:
// validation failures, permission failures and not-found lookups. Handlers
// return these unchanged; ErrorHandler renders them.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NonFieldKey collects messages that are not tied to a single input field.
const NonFieldKey = "non_field_errors"

// ValidationError reports malformed input or a violated business rule.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == NonFieldKey {
			parts = append(parts, strings.Join(e.Fields[k], "; "))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return strings.Join(parts, ", ")
}

// Add appends msg under field and returns the receiver.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
	return e
}

// Invalid returns a ValidationError not scoped to a field.
func Invalid(msg string) *ValidationError {
	return (&ValidationError{}).Add(NonFieldKey, msg)
}

// InvalidField returns a ValidationError scoped to field.
func InvalidField(field, msg string) *ValidationError {
	return (&ValidationError{}).Add(field, msg)
}

// PermissionError reports an actor acting outside its role.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return e.Message }

// Forbidden returns a PermissionError.
func Forbidden(msg string) *PermissionError {
	return &PermissionError{Message: msg}
}

// NotFoundError reports a missing entity, or one the actor does not own.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// NotFound returns a NotFoundError for resource.
func NotFound(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPermission reports whether err wraps a PermissionError.
func IsPermission(err error) bool {
	var p *PermissionError
	return errors.As(err, &p)
}
