package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/events"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AdvanceStatus moves a booking one step along its fulfillment path.
// Moving to cancelled goes through CancelBooking so inventory is restocked.
// Forward steps never touch inventory.
func (s *ReservationService) AdvanceStatus(ctx context.Context, bookingID string, next model.BookingStatus) (*model.Booking, error) {
	if next == model.StatusCancelled {
		return s.CancelBooking(ctx, bookingID, "")
	}

	ctx, span := s.tracer.Start(ctx, "reservation.advance_status",
		trace.WithAttributes(
			attribute.String("booking.id", bookingID),
			attribute.String("booking.status", string(next)),
		))
	defer span.End()

	if _, err := model.ParseBookingStatus(string(next)); err != nil {
		return nil, failSpan(span, invalid("%v", err))
	}

	current, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if !model.CanTransition(current.Status, next) {
		return nil, failSpan(span, fmt.Errorf("booking %s: %s -> %s: %w", bookingID, current.Status, next, ErrInvalidTransition))
	}

	updated, err := s.store.UpdateBookingStatus(ctx, bookingID, current.Status, next)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionConflict) {
			// someone else moved the booking since we read it
			return nil, failSpan(span, fmt.Errorf("booking %s: %s -> %s: %w", bookingID, current.Status, next, ErrInvalidTransition))
		}
		return nil, failSpan(span, fmt.Errorf("advance booking %s: %w", bookingID, err))
	}

	s.logger.Info("booking status advanced",
		zap.String("booking_id", bookingID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)),
	)
	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(next)).Inc()
	}
	s.committed(ctx, events.BookingStatusChanged, updated)
	return updated, nil
}

// CancelBooking cancels a pending, waiting or confirmed booking and gives
// its quantities back to the offerings it reserved, all in one transaction.
// Cancelling an already cancelled booking changes nothing and succeeds. A
// completed booking cannot be cancelled.
//
// Offerings that no longer exist are skipped, and counters never go below
// zero, so a cancellation always completes.
func (s *ReservationService) CancelBooking(ctx context.Context, bookingID, reason string) (*model.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.cancel_booking",
		trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	if bookingID == "" {
		return nil, failSpan(span, invalid("booking id is required"))
	}

	var (
		booking *model.Booking
		changed bool
	)
	err := s.runTx(ctx, "cancel_booking", func(ctx context.Context, tx repository.Tx) error {
		booking, changed = nil, false

		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("booking %s: %w", bookingID, err)
		}
		switch b.Status {
		case model.StatusCancelled:
			booking = b
			return nil
		case model.StatusCompleted:
			return fmt.Errorf("booking %s: %s -> %s: %w", bookingID, b.Status, model.StatusCancelled, ErrInvalidTransition)
		}

		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		b.Status = model.StatusCancelled
		b.CancelReason = reason
		b.CancelledAt = &now
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("cancel booking %s: %w", bookingID, err)
		}

		order, quantities := b.QuantityByOffering()
		for _, id := range order {
			o, err := tx.GetOffering(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				s.logger.Warn("restock skipped, offering no longer exists",
					zap.String("booking_id", bookingID),
					zap.String("offering_id", id),
				)
				continue
			}
			if err != nil {
				return fmt.Errorf("offering %s: %w", id, err)
			}
			if !o.Limited() {
				continue
			}
			o.Reserved = max(0, o.Reserved-quantities[id])
			if err := tx.UpdateOffering(ctx, o); err != nil {
				return fmt.Errorf("restock offering %s: %w", id, err)
			}
		}

		booking, changed = b, true
		return nil
	})
	if err != nil {
		return nil, failSpan(span, err)
	}
	if !changed {
		return booking, nil
	}

	s.logger.Info("booking cancelled",
		zap.String("booking_id", bookingID),
		zap.String("reason", reason),
	)
	if s.metrics != nil {
		s.metrics.BookingsCancelled.Inc()
		s.metrics.StatusTransitions.WithLabelValues(string(model.StatusCancelled)).Inc()
	}
	s.committed(ctx, events.BookingCancelled, booking)
	return booking, nil
}
