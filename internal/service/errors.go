package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrExternalService   = errors.New("external service failure")
	ErrIntegrity         = errors.New("audit integrity check failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrStorageFailure    = errors.New("storage failure")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidTransitionError is returned when From -> To is not in the adjacency
// table, or when the ticket had already moved away from the caller's status.
type InvalidTransitionError struct {
	From models.ReviewStatus
	To   models.ReviewStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// IntegrityError lists audit entries whose stored hash no longer recomputes.
type IntegrityError struct {
	EntryIDs []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %d unverified entries (%s)", ErrIntegrity, len(e.EntryIDs), strings.Join(e.EntryIDs, ", "))
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// storageErr maps a repository error onto the service taxonomy.
func storageErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageFailure, op, err)
}
