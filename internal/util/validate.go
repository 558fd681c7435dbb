// Package util holds small helpers shared by the config and backend packages.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for field '%s' (%v): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validator collects ValidationErrors.
type Validator struct {
	errs []error
}

// Required records an error when value is blank.
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.errs = append(v.errs, &ValidationError{Field: field, Message: "required field is missing"})
	}
}

// OneOf records an error when value is not one of allowed.
func (v *Validator) OneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errs = append(v.errs, &ValidationError{
		Field:   field,
		Value:   value,
		Message: "must be one of " + strings.Join(allowed, ", "),
	})
}

// Check records an error with message when ok is false.
func (v *Validator) Check(ok bool, field string, value any, message string) {
	if !ok {
		v.errs = append(v.errs, &ValidationError{Field: field, Value: value, Message: message})
	}
}

// Err joins every recorded error, or returns nil.
func (v *Validator) Err() error { return errors.Join(v.errs...) }
