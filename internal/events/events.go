// Package events publishes committed booking changes to interested parties.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
)

// Type names a kind of booking change.
type Type string

const (
	BookingCreated       Type = "booking.created"
	BookingStatusChanged Type = "booking.status_changed"
	BookingCancelled     Type = "booking.cancelled"
)

// BookingEvent describes a booking change after it was committed.
type BookingEvent struct {
	Type        Type                `json:"type"`
	BookingID   string              `json:"booking_id"`
	BuyerID     string              `json:"buyer_id"`
	Status      model.BookingStatus `json:"status"`
	OfferingIDs []string            `json:"offering_ids"`
	Reason      string              `json:"reason,omitempty"`
	At          time.Time           `json:"at"`
}

// NewBookingEvent builds an event from the committed booking.
func NewBookingEvent(t Type, b *model.Booking) BookingEvent {
	ids, _ := b.QuantityByOffering()
	return BookingEvent{
		Type:        t,
		BookingID:   b.ID,
		BuyerID:     b.BuyerID,
		Status:      b.Status,
		OfferingIDs: ids,
		Reason:      b.CancelReason,
		At:          b.UpdatedAt,
	}
}

// Publisher delivers booking events. Publish is called after commit, so a
// failure never undoes the change it describes.
type Publisher interface {
	Publish(ctx context.Context, e BookingEvent) error
}

// Multi fans an event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e BookingEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Feed is an in-process publisher that broadcasts events to subscribers.
// Slow subscribers miss events instead of blocking publishers.
type Feed struct {
	mu     sync.RWMutex
	subs   map[int]chan BookingEvent
	nextID int
	buffer int
}

// NewFeed constructs a Feed whose subscriber channels hold buffer events.
func NewFeed(buffer int) *Feed {
	return &Feed{subs: make(map[int]chan BookingEvent), buffer: buffer}
}

// Subscribe returns a channel of events and a func that unsubscribes and
// closes the channel.
func (f *Feed) Subscribe() (<-chan BookingEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan BookingEvent, f.buffer)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

func (f *Feed) Publish(_ context.Context, e BookingEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}
