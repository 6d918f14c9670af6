package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("reservation conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrLockRace           = errors.New("room is being booked by another session")
	ErrFullyBooked        = errors.New("no rooms available for the selected date and slots")
	ErrNotFound           = errors.New("not found or already canceled")
	ErrRoomNotBookable    = errors.New("room is not bookable")
	ErrSessionNotFound    = errors.New("booking session not found")
	ErrSessionExpired     = errors.New("booking session expired")
	ErrInvalidTransition  = errors.New("invalid booking step")
)

// ValidationError reports bad caller input. Nothing was written.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError carries every conflicting reservation found for a submission.
type ConflictError struct {
	Conflicts []Conflict `json:"conflicts"`
}

func (e *ConflictError) Error() string {
	msgs := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		msgs[i] = c.Message()
	}
	return fmt.Sprintf("%d conflicting reservation(s): %s", len(e.Conflicts), strings.Join(msgs, "; "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Unavailable wraps err as a storage failure.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
