// Package repository implements persistence for offerings, bookings and carts.
//
// Every backend exposes the same optimistic-concurrency contract: counter and
// booking writes inside a transaction are conditional on the version that was
// read, and a lost race surfaces as ErrTransactionConflict so the caller can
// re-run the whole transaction from a fresh read.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrTransactionConflict is returned when a conditional write lost a race with
// a concurrent writer. The whole operation must be retried from scratch.
var ErrTransactionConflict = errors.New("transaction conflict")

// TxFunc is the body of a store transaction. It must use the ctx it is given.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the authoritative document store.
type Store interface {
	// RunInTx runs fn atomically. If fn returns an error nothing it wrote is
	// committed.
	RunInTx(ctx context.Context, fn TxFunc) error

	CreateOffering(ctx context.Context, o *model.Offering) error
	GetOffering(ctx context.Context, id string) (*model.Offering, error)

	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ListBookingsByBuyer(ctx context.Context, buyerID string) ([]model.Booking, error)
	// UpdateBookingStatus is a single-document conditional write: it moves the
	// booking to `to` only if its status is still `from`, stamping updated_at
	// with the store clock.
	UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus) (*model.Booking, error)

	PutCartItem(ctx context.Context, item *model.CartItem) error
	ListCart(ctx context.Context, buyerID string) ([]model.CartItem, error)

	Close(ctx context.Context) error
}

// Tx is the view of the store inside RunInTx.
type Tx interface {
	// Now returns the store clock, not the caller's.
	Now(ctx context.Context) (time.Time, error)

	GetOffering(ctx context.Context, id string) (*model.Offering, error)
	// UpdateOffering persists o.Reserved if the stored version still equals
	// o.Version, then increments o.Version.
	UpdateOffering(ctx context.Context, o *model.Offering) error

	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	// InsertBooking assigns an id and version to b and stores it.
	InsertBooking(ctx context.Context, b *model.Booking) error
	// UpdateBooking persists status and cancellation fields if the stored
	// version still equals b.Version, then increments b.Version.
	UpdateBooking(ctx context.Context, b *model.Booking) error

	ClearCart(ctx context.Context, buyerID string, offeringIDs []string) error
}

func newID() string {
	return uuid.New().String()
}
