package model

import "fmt"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending         BookingStatus = "pending"
	StatusWaitingDelivery BookingStatus = "waitingDelivery"
	StatusConfirmed       BookingStatus = "confirmed"
	StatusCompleted       BookingStatus = "completed"
	StatusCancelled       BookingStatus = "cancelled"
)

// forward holds the single allowed fulfillment step out of each status.
var forward = map[BookingStatus]BookingStatus{
	StatusPending:         StatusWaitingDelivery,
	StatusWaitingDelivery: StatusConfirmed,
	StatusConfirmed:       StatusCompleted,
}

// ParseBookingStatus converts s into a BookingStatus, rejecting unknown values.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case StatusPending, StatusWaitingDelivery, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// UnmarshalText makes JSON decoding reject statuses outside the closed set.
func (s *BookingStatus) UnmarshalText(text []byte) error {
	st, err := ParseBookingStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Next returns the fulfillment status that follows s, if any.
func (s BookingStatus) Next() (BookingStatus, bool) {
	next, ok := forward[s]
	return next, ok
}

// CanTransition reports whether a booking may move from one status to another.
// Bookings only move forward one step at a time, and may be cancelled from any
// non-terminal status.
func CanTransition(from, to BookingStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}
