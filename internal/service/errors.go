package service

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart          = errors.New("ticket is empty")
	ErrClientRequired     = errors.New("a client is required for account sales")
	ErrInvalidPayment     = errors.New("invalid payment method")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoOperator         = errors.New("no operator session")
	ErrForbidden          = errors.New("forbidden")
	ErrCheckoutInProgress = errors.New("a checkout is already in progress for this ticket")
	ErrNoReceipt          = errors.New("no receipt published yet")
)

// ValidationError is reported before any state changes. The message is meant
// for the operator.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Err: err}
}

// AuthError aborts an operation before any write.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "authentication required: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// PersistenceError is a failed store write during checkout. Step names the
// write that failed; writes before it are not compensated.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkout failed at %s: %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
