package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrProviderUnavailable matches every ProviderUnavailableError.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrConsistency matches every ConsistencyError.
	ErrConsistency = errors.New("blocking state inconsistent")
	// ErrInvalidEvent is returned for events that break the model invariants.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrEngineOwned is returned when a user flow tries to edit a mirror event.
	ErrEngineOwned = errors.New("event is managed by the blocking engine")
)

// NotFoundError reports a calendar, event or relationship that is required but missing.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFound builds a NotFoundError.
func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ProviderUnavailableError reports a provider that could not complete a call
// because of authentication, network or service state, as opposed to bad input.
type ProviderUnavailableError struct {
	Provider   string
	CalendarID string
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("%s provider unavailable for calendar %s: %v", e.Provider, e.CalendarID, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

func (e *ProviderUnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// ConsistencyError reports blocking bookkeeping that no longer matches the
// stored events. It is logged and skipped, never fatal.
type ConsistencyError struct {
	RelationshipID string
	TargetEventID  string
	Reason         string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("relationship %s, mirror %s: %s", e.RelationshipID, e.TargetEventID, e.Reason)
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}
