package params

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRequiredField is returned when a required string is empty.
	ErrMissingRequiredField = errors.New("missing required field")
	// ErrInvalidDomainValue is returned for out-of-range or unknown values.
	ErrInvalidDomainValue = errors.New("invalid domain value")
	// ErrInvalidArgumentKind is returned for values of an unsupported type or shape.
	ErrInvalidArgumentKind = errors.New("invalid argument kind")
)

// ValidationError describes a rejected argument. Kind is one of the
// sentinel errors above and is exposed through Unwrap.
type ValidationError struct {
	Kind     error
	Field    string
	Expected string
	Value    any
}

func (e *ValidationError) Error() string {
	if e.Kind == ErrMissingRequiredField {
		return fmt.Sprintf("%s is required", e.Field)
	}
	if e.Expected == "" {
		return fmt.Sprintf("%v: %s (got %v)", e.Kind, e.Field, e.Value)
	}
	return fmt.Sprintf("%v: %s must be %s (got %v)", e.Kind, e.Field, e.Expected, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// Required returns a MissingRequiredField error for field when value is empty.
func Required(field, value string) error {
	if value != "" {
		return nil
	}
	return &ValidationError{Kind: ErrMissingRequiredField, Field: field}
}

// Invalid returns an InvalidDomainValue error.
func Invalid(field, expected string, value any) error {
	return &ValidationError{Kind: ErrInvalidDomainValue, Field: field, Expected: expected, Value: value}
}

// BadKind returns an InvalidArgumentKind error.
func BadKind(field, expected string, value any) error {
	return &ValidationError{Kind: ErrInvalidArgumentKind, Field: field, Expected: expected, Value: value}
}
