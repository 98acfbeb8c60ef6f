package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for request-scoped failure classification.
var (
	// ErrValidation indicates missing or malformed caller input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates a bad or missing administrative credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates a missing record (no contestants, no config).
	ErrNotFound = errors.New("not found")
)

// PersistenceError wraps a failed ledger store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GatewayError wraps a failed or empty response from the agent message
// gateway or the asset registration gateway.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
