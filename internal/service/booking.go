package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/cache"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/events"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CreateBooking reserves every requested quantity and records a pending
// booking in one transaction. Either all offerings are incremented and the
// booking exists, or nothing changed.
//
// Quantities for the same offering are checked as one request. Offerings
// without a limit are never counter-mutated. A lost write race re-runs the
// whole transaction from a fresh read, so two bookings that together exceed
// the remaining capacity cannot both succeed.
func (s *ReservationService) CreateBooking(ctx context.Context, req model.CreateBookingRequest) (*model.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.create_booking",
		trace.WithAttributes(attribute.String("buyer.id", req.BuyerID)))
	defer span.End()

	req.BuyerID = strings.TrimSpace(req.BuyerID)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, failSpan(span, validationError(err))
	}

	items := make([]model.LineItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = model.LineItem{OfferingID: it.OfferingID, Quantity: it.Quantity}
	}
	order, requested := model.SumQuantities(items)
	for _, id := range order {
		if requested[id] > model.MaxQuantity {
			return nil, failSpan(span, invalid("offering %s: total quantity must be at most %d", id, model.MaxQuantity))
		}
	}

	var booking *model.Booking
	err := s.runTx(ctx, "create_booking", func(ctx context.Context, tx repository.Tx) error {
		booking = nil

		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}

		offerings := make(map[string]*model.Offering, len(order))
		for _, id := range order {
			o, err := tx.GetOffering(ctx, id)
			if err != nil {
				return fmt.Errorf("offering %s: %w", id, err)
			}
			if !o.InBookingWindow(now) {
				return fmt.Errorf("offering %s: %w", id, ErrBookingWindowClosed)
			}
			if c := o.Capacity(); !c.Covers(requested[id]) {
				return &CapacityExceededError{OfferingID: id, Requested: requested[id], Remaining: c.Remaining}
			}
			offerings[id] = o
		}

		for _, id := range order {
			o := offerings[id]
			if !o.Limited() {
				continue
			}
			o.Reserved += requested[id]
			if err := tx.UpdateOffering(ctx, o); err != nil {
				return fmt.Errorf("reserve offering %s: %w", id, err)
			}
		}

		lines := make([]model.LineItem, len(items))
		for i, li := range items {
			li.UnitPrice = offerings[li.OfferingID].UnitPrice
			lines[i] = li
		}
		b := &model.Booking{
			BuyerID:   req.BuyerID,
			Items:     lines,
			Shipping:  req.Shipping,
			Payment:   req.Payment,
			Status:    model.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		if req.ClearCart {
			if err := tx.ClearCart(ctx, req.BuyerID, order); err != nil {
				return err
			}
		}
		booking = b
		return nil
	})
	if err != nil {
		var capErr *CapacityExceededError
		if errors.As(err, &capErr) {
			s.logger.Info("booking rejected",
				zap.String("buyer_id", req.BuyerID),
				zap.String("offering_id", capErr.OfferingID),
				zap.Int("requested", capErr.Requested),
				zap.Int("remaining", capErr.Remaining),
			)
			if s.metrics != nil {
				s.metrics.CapacityExceeded.Inc()
			}
			return nil, failSpan(span, err)
		}
		return nil, failSpan(span, fmt.Errorf("create booking: %w", err))
	}

	span.SetAttributes(attribute.String("booking.id", booking.ID))
	s.logger.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("buyer_id", booking.BuyerID),
		zap.Strings("offering_ids", order),
	)
	if s.metrics != nil {
		s.metrics.BookingsCreated.Inc()
	}
	s.committed(ctx, events.BookingCreated, booking)
	return booking, nil
}

// Checkout is CreateBooking behind an optional idempotency key. Repeating a
// key whose checkout succeeded returns the original booking with replayed
// set; a key still being processed yields cache.ErrKeyInProgress. Without a
// key, or without an idempotency store, it behaves like CreateBooking.
func (s *ReservationService) Checkout(ctx context.Context, key string, req model.CreateBookingRequest) (booking *model.Booking, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" || s.idempotency == nil {
		booking, err = s.CreateBooking(ctx, req)
		return booking, false, err
	}

	bookingID, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrKeyInProgress) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if bookingID != "" {
		booking, err = s.GetBooking(ctx, bookingID)
		return booking, err == nil, err
	}

	booking, err = s.CreateBooking(ctx, req)
	if err != nil {
		if markErr := s.idempotency.MarkFailure(ctx, key); markErr != nil {
			s.logger.Warn("release idempotency key", zap.String("key", key), zap.Error(markErr))
		}
		return nil, false, err
	}
	if markErr := s.idempotency.MarkSuccess(ctx, key, booking.ID); markErr != nil {
		s.logger.Warn("record idempotency key", zap.String("key", key), zap.Error(markErr))
	}
	return booking, false, nil
}
