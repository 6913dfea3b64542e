package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrTaskLocked      = errors.New("task is locked")
	ErrUnknownPhase    = errors.New("unknown phase")
	ErrUnsupportedTool = errors.New("unsupported tool")
	ErrInvalidToolArgs = errors.New("invalid tool arguments")
	ErrToolNotAllowed  = errors.New("tool not allowed in phase")
	ErrPhaseTransition = errors.New("phase transition not allowed")
	ErrProvider        = errors.New("completion provider failure")
	ErrStore           = errors.New("context store failure")
	ErrInvalidInput    = errors.New("invalid input")
)

// StoreError wraps a persistence failure with the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStore, e.Err}
}

// NewStoreError returns nil if err is nil. Not-found errors pass through untouched.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStore) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// ProviderError wraps a completion provider failure.
type ProviderError struct {
	Op     string
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s [%d]: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}
