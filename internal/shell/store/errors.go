// Package store provides persistence for deployment history.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound means no deployment log has the requested ID.
	ErrNotFound = errors.New("deployment log not found")

	// ErrDuplicateID means a deployment log with the ID was already recorded.
	ErrDuplicateID = errors.New("deployment log already recorded")

	// ErrConnectionFailed means the history database could not be reached.
	ErrConnectionFailed = errors.New("history database unavailable")

	// ErrMigrationFailed means the history schema could not be brought up to date.
	ErrMigrationFailed = errors.New("history schema migration failed")

	// ErrInvalidData means a stored column could not be encoded or decoded.
	ErrInvalidData = errors.New("malformed deployment log column")

	// ErrTxFailed means a transaction could not begin, commit or roll back.
	ErrTxFailed = errors.New("history transaction failed")
)

// StoreError carries the operation and record a failure belongs to.
type StoreError struct {
	Op      string // Store method, e.g. "UpdateDeploymentLog"
	Entity  string // Always "deployment_log" for record operations
	ID      string // Deployment ID, when the failure concerns one record
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	switch {
	case e.ID != "":
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}
