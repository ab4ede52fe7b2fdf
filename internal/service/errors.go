package service

import "fmt"

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// InvalidStateError represents an operation attempted in a status that does not allow it.
// Nothing is changed when it is returned.
type InvalidStateError struct {
	ID     int
	Status string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s campaign %d in status %s", e.Action, e.ID, e.Status)
}
