// Package service implements the reservation engine: booking against
// limited offerings, the booking lifecycle, compensating restock on
// cancellation and the advisory cart quantity guard.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/cache"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/events"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/metrics"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/repository"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName         = "harvest-reservations/service"
	defaultMaxAttempts = 8
)

// ReservationService orchestrates offerings, bookings and carts on top of a
// repository.Store.
type ReservationService struct {
	store       repository.Store
	validate    *validator.Validate
	capacity    cache.CapacityCache
	idempotency cache.IdempotencyStore
	publisher   events.Publisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	maxAttempts int
}

// Option configures a ReservationService.
type Option func(*ReservationService)

// WithCapacityCache serves RemainingCapacity from c.
func WithCapacityCache(c cache.CapacityCache) Option {
	return func(s *ReservationService) { s.capacity = c }
}

// WithIdempotency enables Idempotency-Key handling in Checkout.
func WithIdempotency(store cache.IdempotencyStore) Option {
	return func(s *ReservationService) { s.idempotency = store }
}

// WithPublisher publishes committed booking changes to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *ReservationService) { s.publisher = p }
}

// WithMetrics records engine counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReservationService) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *ReservationService) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *ReservationService) { s.tracer = t }
}

// WithMaxAttempts bounds how many times a conflicting transaction is run.
func WithMaxAttempts(n int) Option {
	return func(s *ReservationService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewReservationService constructs a ReservationService with its dependencies.
func NewReservationService(store repository.Store, opts ...Option) *ReservationService {
	s := &ReservationService{
		store:       store,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOffering validates the request and stores a new offering with
// nothing reserved.
func (s *ReservationService) CreateOffering(ctx context.Context, req model.CreateOfferingRequest) (*model.Offering, error) {
	req.SellerID = strings.TrimSpace(req.SellerID)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, validationError(err)
	}
	if req.UnitPrice.IsNegative() {
		return nil, invalid("unit_price cannot be negative")
	}
	if outOfOrder(req.BookingStart, req.BookingEnd) {
		return nil, invalid("booking_start must not be after booking_end")
	}
	if outOfOrder(req.HarvestStart, req.HarvestEnd) {
		return nil, invalid("harvest_start must not be after harvest_end")
	}

	o := &model.Offering{
		SellerID:     req.SellerID,
		Name:         req.Name,
		Region:       req.Region,
		UnitPrice:    req.UnitPrice,
		Description:  req.Description,
		HarvestStart: req.HarvestStart,
		HarvestEnd:   req.HarvestEnd,
		BookingStart: req.BookingStart,
		BookingEnd:   req.BookingEnd,
		Limit:        req.Limit,
	}
	if err := s.store.CreateOffering(ctx, o); err != nil {
		return nil, fmt.Errorf("create offering: %w", err)
	}
	s.logger.Info("offering created",
		zap.String("offering_id", o.ID),
		zap.String("seller_id", o.SellerID),
		zap.Intp("limit", o.Limit),
	)
	return o, nil
}

// GetOffering returns a single offering by id.
func (s *ReservationService) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	if id == "" {
		return nil, invalid("offering id is required")
	}
	o, err := s.store.GetOffering(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get offering %s: %w", id, err)
	}
	return o, nil
}

// GetBooking returns a single booking by id.
func (s *ReservationService) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, invalid("booking id is required")
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// ListBuyerBookings returns a buyer's bookings, newest first.
func (s *ReservationService) ListBuyerBookings(ctx context.Context, buyerID string) ([]model.Booking, error) {
	if buyerID == "" {
		return nil, invalid("buyer id is required")
	}
	bookings, err := s.store.ListBookingsByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// runTx runs fn in a store transaction, re-running it from scratch with
// exponential backoff while it loses write conflicts. Any other error ends
// the loop. fn must reset whatever it captures on every run.
func (s *ReservationService) runTx(ctx context.Context, op string, fn repository.TxFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.store.RunInTx(ctx, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, repository.ErrTransactionConflict):
			s.logger.Debug("transaction conflict",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.TxConflicts.WithLabelValues(op).Inc()
			}
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(s.maxAttempts)),
	)
	if errors.Is(err, repository.ErrTransactionConflict) {
		s.logger.Warn("transaction retries exhausted", zap.String("op", op), zap.Int("attempts", attempt))
	}
	return err
}

// committed runs the best-effort follow-ups of a committed change. None of
// them can undo it, so failures are only logged.
func (s *ReservationService) committed(ctx context.Context, t events.Type, b *model.Booking) {
	offeringIDs, _ := b.QuantityByOffering()
	if s.capacity != nil {
		if err := s.capacity.Invalidate(ctx, offeringIDs...); err != nil {
			s.logger.Warn("invalidate capacity cache", zap.Strings("offering_ids", offeringIDs), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.NewBookingEvent(t, b)); err != nil {
			s.logger.Error("publish booking event",
				zap.String("type", string(t)),
				zap.String("booking_id", b.ID),
				zap.Error(err),
			)
		}
	}
}

func failSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func outOfOrder(start, end *time.Time) bool {
	return start != nil && end != nil && start.After(*end)
}
