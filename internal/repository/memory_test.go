package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOffering(t *testing.T, s *MemoryStore, limit int) *model.Offering {
	t.Helper()
	o := &model.Offering{SellerID: "farm-1", Name: "Lychee", Limit: &limit}
	require.NoError(t, s.CreateOffering(context.Background(), o))
	return o
}

func TestMemoryTxCommitsBufferedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := seedOffering(t, s, 10)

	var bookingID string
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.GetOffering(ctx, o.ID)
		if err != nil {
			return err
		}
		got.Reserved = 3
		if err := tx.UpdateOffering(ctx, got); err != nil {
			return err
		}
		b := &model.Booking{BuyerID: "buyer-1", Status: model.StatusPending,
			Items: []model.LineItem{{OfferingID: o.ID, Quantity: 3}}}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		bookingID = b.ID
		return nil
	})
	require.NoError(t, err)

	stored, err := s.GetOffering(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Reserved)
	assert.Equal(t, int64(2), stored.Version)

	b, err := s.GetBooking(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Version)
}

func TestMemoryTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := seedOffering(t, s, 10)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		got, _ := tx.GetOffering(ctx, o.ID)
		got.Reserved = 9
		_ = tx.UpdateOffering(ctx, got)
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := s.GetOffering(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Reserved)
}

func TestMemoryTxDetectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := seedOffering(t, s, 10)

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.GetOffering(ctx, o.ID)
		if err != nil {
			return err
		}

		// a second writer commits between our read and our commit
		require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, other Tx) error {
			theirs, err := other.GetOffering(ctx, o.ID)
			if err != nil {
				return err
			}
			theirs.Reserved = 6
			return other.UpdateOffering(ctx, theirs)
		}))

		got.Reserved = 6
		return tx.UpdateOffering(ctx, got)
	})
	require.ErrorIs(t, err, ErrTransactionConflict)

	stored, err := s.GetOffering(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.Reserved, "only the first writer's increment is kept")
}

func TestMemoryTxRejectsStaleVersionWithinTx(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := seedOffering(t, s, 10)

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		first, _ := tx.GetOffering(ctx, o.ID)
		stale := *first
		first.Reserved = 1
		require.NoError(t, tx.UpdateOffering(ctx, first))
		stale.Reserved = 2
		return tx.UpdateOffering(ctx, &stale)
	})
	assert.ErrorIs(t, err, ErrTransactionConflict)
}

func TestMemoryUpdateBookingStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStoreWithClock(func() time.Time { return now })

	var id string
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		b := &model.Booking{BuyerID: "buyer-1", Status: model.StatusPending}
		err := tx.InsertBooking(ctx, b)
		id = b.ID
		return err
	}))

	now = now.Add(time.Hour)
	b, err := s.UpdateBookingStatus(ctx, id, model.StatusPending, model.StatusWaitingDelivery)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingDelivery, b.Status)
	assert.Equal(t, now, b.UpdatedAt)

	_, err = s.UpdateBookingStatus(ctx, id, model.StatusPending, model.StatusWaitingDelivery)
	assert.ErrorIs(t, err, ErrTransactionConflict)

	_, err = s.UpdateBookingStatus(ctx, "missing", model.StatusPending, model.StatusWaitingDelivery)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCart(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.PutCartItem(ctx, &model.CartItem{BuyerID: "b", OfferingID: "o2", Quantity: 1}))
	require.NoError(t, s.PutCartItem(ctx, &model.CartItem{BuyerID: "b", OfferingID: "o1", Quantity: 2}))
	require.NoError(t, s.PutCartItem(ctx, &model.CartItem{BuyerID: "b", OfferingID: "o1", Quantity: 4}))

	items, err := s.ListCart(ctx, "b")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "o1", items[0].OfferingID)
	assert.Equal(t, 4, items[0].Quantity)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.ClearCart(ctx, "b", []string{"o1"})
	}))
	items, err = s.ListCart(ctx, "b")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "o2", items[0].OfferingID)
}
