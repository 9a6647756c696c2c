package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidTransition is returned when a booking cannot move to the
	// requested status from its current one.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCapacityExceeded matches every *CapacityExceededError.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrBookingWindowClosed is returned when an offering is booked outside
	// its booking window.
	ErrBookingWindowClosed = errors.New("booking window closed")
	// ErrSoldOut is returned when a cart quantity clamps to nothing.
	ErrSoldOut = errors.New("offering sold out")
)

// CapacityExceededError reports the offering that could not cover a booking
// and how much of it was left when the booking was attempted.
type CapacityExceededError struct {
	OfferingID string
	Requested  int
	Remaining  int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("offering %s: requested %d, remaining %d: %s",
		e.OfferingID, e.Requested, e.Remaining, ErrCapacityExceeded)
}

func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// ValidationError wraps request validation failures.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// validationError turns validator output into a single readable message.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{msg: err.Error()}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Namespace()+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", fe.Namespace(), fe.Param()))
		case "gt", "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", fe.Namespace(), tagWord(fe.Tag()), fe.Param()))
		default:
			msgs = append(msgs, fe.Namespace()+" is invalid")
		}
	}
	return &ValidationError{msg: strings.Join(msgs, "; ")}
}

func tagWord(tag string) string {
	switch tag {
	case "gt":
		return "greater than"
	case "lte":
		return "at most"
	}
	return "at least"
}
