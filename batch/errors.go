package batch

import (
	"errors"
	"fmt"
)

// ErrSchema is the sentinel for schema mismatches.
var ErrSchema = errors.New("schema mismatch")

// SchemaError describes a missing or mistyped column.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema: %s", e.Reason)
	}
	return fmt.Sprintf("schema: column %s %s", e.Column, e.Reason)
}

// Unwrap allows errors.Is(err, ErrSchema).
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}
