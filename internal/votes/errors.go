package votes

import (
	"errors"
	"fmt"

	"github.com/gatherly/backend/internal/models"
)

var (
	ErrNotFound         = errors.New("vote not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrVoteClosed       = errors.New("vote is closed")
	ErrAlreadyVoted     = errors.New("user has already voted")
	ErrInvalidOption    = errors.New("option does not belong to this vote")
	ErrValidationFailed = errors.New("validation failed")
	ErrStoreFailure     = errors.New("store failure")
)

// storeErr tags a persistence error so callers can match ErrStoreFailure while
// the underlying message passes through.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

// Phase names the registration step that failed.
type Phase string

const (
	PhaseDescriptor Phase = "descriptor"
	PhaseOption     Phase = "option"
)

// RegistrationError is returned by Register when persisting an intent fails.
type RegistrationError struct {
	Phase Phase
	Kind  models.VoteKind
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s vote: %s insert failed: %v", e.Kind, e.Phase, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
