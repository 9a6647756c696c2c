package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
)

// MemoryStore keeps all documents in process memory. Transactions are
// optimistic: reads see committed state, writes are buffered, and commit
// fails with ErrTransactionConflict if a written document changed since it
// was read.
type MemoryStore struct {
	mu        sync.RWMutex
	offerings map[string]model.Offering
	bookings  map[string]model.Booking
	carts     map[string]map[string]model.CartItem
	clock     func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryStoreWithClock constructs an empty MemoryStore using clock as the
// store clock.
func NewMemoryStoreWithClock(clock func() time.Time) *MemoryStore {
	return &MemoryStore{
		offerings: make(map[string]model.Offering),
		bookings:  make(map[string]model.Booking),
		carts:     make(map[string]map[string]model.CartItem),
		clock:     clock,
	}
}

func (s *MemoryStore) Close(context.Context) error { return nil }

func (s *MemoryStore) CreateOffering(_ context.Context, o *model.Offering) error {
	now := s.clock()
	o.ID = newID()
	o.Reserved = 0
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[o.ID] = cloneOffering(*o)
	return nil
}

func (s *MemoryStore) GetOffering(_ context.Context, id string) (*model.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offerings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneOffering(o)
	return &out, nil
}

// PutOffering overwrites an offering as is. Used to seed fixtures.
func (s *MemoryStore) PutOffering(o model.Offering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[o.ID] = cloneOffering(o)
}

// DeleteOffering removes an offering, as a seller deactivating it would.
func (s *MemoryStore) DeleteOffering(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offerings, id)
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneBooking(b)
	return &out, nil
}

func (s *MemoryStore) ListBookingsByBuyer(_ context.Context, buyerID string) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.BuyerID == buyerID {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateBookingStatus(_ context.Context, id string, from, to model.BookingStatus) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != from {
		return nil, fmt.Errorf("booking %s is %s, not %s: %w", id, b.Status, from, ErrTransactionConflict)
	}
	b.Status = to
	b.UpdatedAt = s.clock()
	b.Version++
	s.bookings[id] = b
	out := cloneBooking(b)
	return &out, nil
}

func (s *MemoryStore) PutCartItem(_ context.Context, item *model.CartItem) error {
	item.UpdatedAt = s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[item.BuyerID]
	if !ok {
		cart = make(map[string]model.CartItem)
		s.carts[item.BuyerID] = cart
	}
	cart[item.OfferingID] = *item
	return nil
}

func (s *MemoryStore) ListCart(_ context.Context, buyerID string) ([]model.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CartItem
	for _, item := range s.carts[buyerID] {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferingID < out[j].OfferingID })
	return out, nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn TxFunc) error {
	tx := &memoryTx{
		s:               s,
		now:             s.clock(),
		offerings:       make(map[string]model.Offering),
		offeringBase:    make(map[string]int64),
		bookings:        make(map[string]model.Booking),
		bookingBase:     make(map[string]int64),
		insertedBooking: make(map[string]bool),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

type cartClear struct {
	buyerID     string
	offeringIDs []string
}

type memoryTx struct {
	s   *MemoryStore
	now time.Time

	offerings    map[string]model.Offering
	offeringBase map[string]int64

	bookings        map[string]model.Booking
	bookingBase     map[string]int64
	insertedBooking map[string]bool

	cartClears []cartClear
}

func (tx *memoryTx) Now(context.Context) (time.Time, error) {
	return tx.now, nil
}

func (tx *memoryTx) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	if o, ok := tx.offerings[id]; ok {
		out := cloneOffering(o)
		return &out, nil
	}
	return tx.s.GetOffering(ctx, id)
}

func (tx *memoryTx) UpdateOffering(_ context.Context, o *model.Offering) error {
	if buffered, ok := tx.offerings[o.ID]; ok {
		if buffered.Version != o.Version {
			return fmt.Errorf("offering %s: %w", o.ID, ErrTransactionConflict)
		}
	} else {
		tx.offeringBase[o.ID] = o.Version
	}
	o.Version++
	o.UpdatedAt = tx.now
	tx.offerings[o.ID] = cloneOffering(*o)
	return nil
}

func (tx *memoryTx) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if b, ok := tx.bookings[id]; ok {
		out := cloneBooking(b)
		return &out, nil
	}
	return tx.s.GetBooking(ctx, id)
}

func (tx *memoryTx) InsertBooking(_ context.Context, b *model.Booking) error {
	b.ID = newID()
	b.Version = 1
	tx.bookings[b.ID] = cloneBooking(*b)
	tx.insertedBooking[b.ID] = true
	return nil
}

func (tx *memoryTx) UpdateBooking(_ context.Context, b *model.Booking) error {
	if buffered, ok := tx.bookings[b.ID]; ok {
		if buffered.Version != b.Version {
			return fmt.Errorf("booking %s: %w", b.ID, ErrTransactionConflict)
		}
	} else {
		tx.bookingBase[b.ID] = b.Version
	}
	b.Version++
	tx.bookings[b.ID] = cloneBooking(*b)
	return nil
}

func (tx *memoryTx) ClearCart(_ context.Context, buyerID string, offeringIDs []string) error {
	tx.cartClears = append(tx.cartClears, cartClear{buyerID: buyerID, offeringIDs: offeringIDs})
	return nil
}

func (tx *memoryTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range tx.offeringBase {
		current, ok := s.offerings[id]
		if !ok || current.Version != base {
			return fmt.Errorf("offering %s changed: %w", id, ErrTransactionConflict)
		}
	}
	for id, base := range tx.bookingBase {
		current, ok := s.bookings[id]
		if !ok || current.Version != base {
			return fmt.Errorf("booking %s changed: %w", id, ErrTransactionConflict)
		}
	}

	for id := range tx.insertedBooking {
		if _, exists := s.bookings[id]; exists {
			return fmt.Errorf("booking %s already exists: %w", id, ErrTransactionConflict)
		}
	}

	for id, o := range tx.offerings {
		s.offerings[id] = o
	}
	for id, b := range tx.bookings {
		s.bookings[id] = b
	}
	for _, c := range tx.cartClears {
		cart := s.carts[c.buyerID]
		for _, offeringID := range c.offeringIDs {
			delete(cart, offeringID)
		}
	}
	return nil
}

func cloneOffering(o model.Offering) model.Offering {
	if o.Limit != nil {
		limit := *o.Limit
		o.Limit = &limit
	}
	return o
}

func cloneBooking(b model.Booking) model.Booking {
	b.Items = append([]model.LineItem(nil), b.Items...)
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		b.CancelledAt = &at
	}
	return b
}
