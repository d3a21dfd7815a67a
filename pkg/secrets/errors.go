package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailure is returned whenever the service answers 403.
	ErrAuthFailure = errors.New("failed to authenticate to the Vault server: invalid token")
	// ErrNotFound is returned whenever the service answers 404.
	ErrNotFound = errors.New("failed to process request: invalid path")
)

// OperationError reports an operation whose status code is outside its
// accepted set. Err is ErrAuthFailure or ErrNotFound for the globally
// recognised codes.
type OperationError struct {
	Op     string
	Entity string
	Status int
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		if e.Entity == "" {
			return fmt.Sprintf("%s (%s)", e.Err, e.Op)
		}
		return fmt.Sprintf("%s (%s: %s)", e.Err, e.Op, e.Entity)
	}
	if e.Entity == "" {
		return fmt.Sprintf("failed to %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("failed to %s: %s (status %d)", e.Op, e.Entity, e.Status)
}

func (e *OperationError) Unwrap() error { return e.Err }

// TransportError reports a request that never got a response: timeout,
// refused connection or TLS failure.
type TransportError struct {
	Op     string
	Entity string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to contact the Vault server: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewError builds the error matching a failed outcome.
func NewError(op Operation, outcome Outcome, status int) error {
	switch outcome {
	case AuthFailure:
		return &OperationError{Op: op.Name, Entity: op.Entity, Status: status, Err: ErrAuthFailure}
	case NotFound:
		return &OperationError{Op: op.Name, Entity: op.Entity, Status: status, Err: ErrNotFound}
	case Success, AlreadyExists:
		return nil
	default:
		return &OperationError{Op: op.Name, Entity: op.Entity, Status: status}
	}
}
