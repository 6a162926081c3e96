package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an outbound operation requires an
	// active realtime connection and there is none.
	ErrNotConnected = errors.New("not connected")
	// ErrNotFound is returned when an entity cannot be located by its identity.
	ErrNotFound = errors.New("not found")
)

// MappingError reports a payload that could not be mapped to an entity,
// either because it is not valid JSON or because required fields are missing.
type MappingError struct {
	Entity string
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %s: %v", e.Entity, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}
