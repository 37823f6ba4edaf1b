package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy surfaced verbatim to callers so operator-facing tools can
// render precise messages.
var (
	// ErrAlreadyActive: the contact already has an active instance. Callers
	// may treat the second Start as an idempotent no-op.
	ErrAlreadyActive = errors.New("contact already has an active workflow instance")

	// ErrEntryConditionsNotMet: the contact snapshot does not satisfy the
	// chosen workflow's entry conditions.
	ErrEntryConditionsNotMet = errors.New("contact does not meet workflow entry conditions")

	// ErrMissingChannel: the contact has no reachable channel. Fatal for the
	// instance; the condition will not change without external intervention.
	ErrMissingChannel = errors.New("contact has no reachable channel")
)

// TransportError wraps a failed collaborator call (render, send, store,
// timeout). The instance stays due and the next scheduler pass retries it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
