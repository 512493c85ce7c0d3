package product

import (
	"fmt"
	"strings"
)

// Violation is a single field-level validation failure.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError aggregates every violation found in an input.
type ValidationError struct {
	Violations []Violation
}

// Add records a violation.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// OrNil returns e as an error when it holds violations and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// Messages returns the violations formatted as "field: message".
func (e *ValidationError) Messages() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.String()
	}
	return out
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages(), "; ")
}

// QueryError reports a sort specification that does not match the schema.
type QueryError struct {
	Field string
	Err   error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid sort %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("unknown sort field %q", e.Field)
}

func (e *QueryError) Unwrap() error { return e.Err }

// PersistenceError reports a write the store rejected, either because of a
// constraint violation or because the store could not be reached.
type PersistenceError struct {
	Op string
	// Constraint names the violated constraint, empty for non-constraint failures.
	Constraint string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s: constraint %s violated: %v", e.Op, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsConstraint reports whether the store rejected the write on a constraint.
func (e *PersistenceError) IsConstraint() bool {
	return e.Constraint != ""
}
