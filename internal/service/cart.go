package service

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"go.uber.org/zap"
)

// RemainingCapacity returns what an offering can still take. The value may
// be served from the capacity cache and is advisory only.
func (s *ReservationService) RemainingCapacity(ctx context.Context, offeringID string) (model.Capacity, error) {
	if offeringID == "" {
		return model.Capacity{}, invalid("offering id is required")
	}
	if s.capacity != nil {
		c, ok, err := s.capacity.Get(ctx, offeringID)
		if err != nil {
			s.logger.Warn("read capacity cache", zap.String("offering_id", offeringID), zap.Error(err))
		} else if ok {
			return c, nil
		}
	}

	o, err := s.store.GetOffering(ctx, offeringID)
	if err != nil {
		return model.Capacity{}, fmt.Errorf("get offering %s: %w", offeringID, err)
	}
	c := o.Capacity()
	if s.capacity != nil {
		if err := s.capacity.Set(ctx, offeringID, c); err != nil {
			s.logger.Warn("fill capacity cache", zap.String("offering_id", offeringID), zap.Error(err))
		}
	}
	return c, nil
}

// StageCartItem stores a buyer's intended quantity for an offering after
// clamping it to the remaining capacity. warning is non-empty when the
// quantity was changed. Nothing is staged when the offering is sold out.
func (s *ReservationService) StageCartItem(ctx context.Context, buyerID, offeringID string, quantity int) (*model.CartItem, string, error) {
	if buyerID == "" {
		return nil, "", invalid("buyer id is required")
	}
	if quantity > model.MaxQuantity {
		return nil, "", invalid("quantity must be at most %d", model.MaxQuantity)
	}
	c, err := s.RemainingCapacity(ctx, offeringID)
	if err != nil {
		return nil, "", err
	}

	qty, clamped := Clamp(quantity, c)
	if qty == 0 {
		return nil, "", fmt.Errorf("offering %s: %w", offeringID, ErrSoldOut)
	}
	var warning string
	if clamped {
		if c.Unbounded || quantity < 1 {
			warning = fmt.Sprintf("quantity raised to %d", qty)
		} else {
			warning = fmt.Sprintf("only %d left, quantity reduced to %d", c.Remaining, qty)
		}
	}

	item := &model.CartItem{BuyerID: buyerID, OfferingID: offeringID, Quantity: qty}
	if err := s.store.PutCartItem(ctx, item); err != nil {
		return nil, "", fmt.Errorf("stage cart item: %w", err)
	}
	return item, warning, nil
}

// Cart lists the quantities a buyer has staged.
func (s *ReservationService) Cart(ctx context.Context, buyerID string) ([]model.CartItem, error) {
	if buyerID == "" {
		return nil, invalid("buyer id is required")
	}
	items, err := s.store.ListCart(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	return items, nil
}
