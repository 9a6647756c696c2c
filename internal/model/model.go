// Package model defines the core domain types for the harvest pre-order service.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offering is a seller-published, quantity-limited future harvest available
// for advance booking.
type Offering struct {
	ID          string          `json:"id"`
	SellerID    string          `json:"seller_id"`
	Name        string          `json:"name"`
	Region      string          `json:"region"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Description string          `json:"description"`

	HarvestStart *time.Time `json:"harvest_start,omitempty"`
	HarvestEnd   *time.Time `json:"harvest_end,omitempty"`
	BookingStart *time.Time `json:"booking_start,omitempty"`
	BookingEnd   *time.Time `json:"booking_end,omitempty"`

	// Limit is nil for offerings without a quantity cap.
	Limit    *int `json:"limit"`
	Reserved int  `json:"reserved"`
	// Version is bumped on every counter write and guards conditional updates.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Capacity returns how much of the offering can still be booked.
func (o *Offering) Capacity() Capacity {
	if o.Limit == nil {
		return Unbounded()
	}
	return Bounded(*o.Limit - o.Reserved)
}

// Limited reports whether the offering has a quantity cap.
func (o *Offering) Limited() bool {
	return o.Limit != nil
}

// InBookingWindow reports whether now lies inside [BookingStart, BookingEnd].
// A missing bound is treated as open.
func (o *Offering) InBookingWindow(now time.Time) bool {
	if o.BookingStart != nil && now.Before(*o.BookingStart) {
		return false
	}
	if o.BookingEnd != nil && now.After(*o.BookingEnd) {
		return false
	}
	return true
}

// Capacity is the remaining bookable quantity of an offering.
type Capacity struct {
	// Remaining is meaningless when Unbounded is set.
	Remaining int  `json:"remaining"`
	Unbounded bool `json:"unbounded"`
}

// Unbounded is the capacity of an offering without a limit.
func Unbounded() Capacity {
	return Capacity{Unbounded: true}
}

// Bounded returns a finite capacity, floored at zero.
func Bounded(remaining int) Capacity {
	if remaining < 0 {
		remaining = 0
	}
	return Capacity{Remaining: remaining}
}

// Covers reports whether quantity fits in the capacity.
func (c Capacity) Covers(quantity int) bool {
	return c.Unbounded || quantity <= c.Remaining
}

// LineItem is one offering/quantity pair of a booking. UnitPrice is the
// offering's price captured when the booking was made.
type LineItem struct {
	OfferingID string          `json:"offering_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// Subtotal is quantity times the captured unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Shipping is buyer-supplied delivery metadata. The engine stores it as is.
type Shipping struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Note    string `json:"note,omitempty"`
}

// Payment is buyer-supplied payment metadata. The engine stores it as is.
type Payment struct {
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

// Booking is a buyer's reservation against one or more offerings.
type Booking struct {
	ID       string        `json:"id"`
	BuyerID  string        `json:"buyer_id"`
	Items    []LineItem    `json:"items"`
	Shipping Shipping      `json:"shipping"`
	Payment  Payment       `json:"payment"`
	Status   BookingStatus `json:"status"`

	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total sums the subtotals of all line items.
func (b *Booking) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range b.Items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// QuantityByOffering sums line item quantities per offering, keeping the
// order in which offerings first appear.
func (b *Booking) QuantityByOffering() ([]string, map[string]int) {
	return SumQuantities(b.Items)
}

// SumQuantities groups line items by offering id.
func SumQuantities(items []LineItem) ([]string, map[string]int) {
	order := make([]string, 0, len(items))
	totals := make(map[string]int, len(items))
	for _, li := range items {
		if _, seen := totals[li.OfferingID]; !seen {
			order = append(order, li.OfferingID)
		}
		totals[li.OfferingID] += li.Quantity
	}
	return order, totals
}

// CartItem is a quantity a buyer has staged for an offering before checkout.
type CartItem struct {
	BuyerID    string    `json:"buyer_id"`
	OfferingID string    `json:"offering_id"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateOfferingRequest is the payload for publishing a new offering.
type CreateOfferingRequest struct {
	SellerID     string          `json:"seller_id" validate:"required"`
	Name         string          `json:"name" validate:"required"`
	Region       string          `json:"region"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Description  string          `json:"description"`
	HarvestStart *time.Time      `json:"harvest_start,omitempty"`
	HarvestEnd   *time.Time      `json:"harvest_end,omitempty"`
	BookingStart *time.Time      `json:"booking_start,omitempty"`
	BookingEnd   *time.Time      `json:"booking_end,omitempty"`
	Limit        *int            `json:"limit" validate:"omitempty,gte=0"`
}

// MaxQuantity is the largest quantity a single booking may take of one
// offering. It keeps quantities inside the store's 32-bit integer columns.
const MaxQuantity = 1_000_000

// LineItemRequest is one requested offering/quantity pair.
type LineItemRequest struct {
	OfferingID string `json:"offering_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0,lte=1000000"`
}

// CreateBookingRequest is the checkout payload.
type CreateBookingRequest struct {
	BuyerID  string            `json:"buyer_id" validate:"required"`
	Items    []LineItemRequest `json:"items" validate:"required,min=1,dive"`
	Shipping Shipping          `json:"shipping"`
	Payment  Payment           `json:"payment"`
	// ClearCart removes the buyer's staged cart entries for the booked offerings.
	ClearCart bool `json:"clear_cart"`
}

// CancelBookingRequest is the payload for cancelling a booking.
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// AdvanceStatusRequest is the payload for moving a booking to its next status.
type AdvanceStatusRequest struct {
	Status BookingStatus `json:"status"`
}

// StageCartItemRequest is the payload for staging a cart quantity.
type StageCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CapacityErrorResponse is returned when a booking exceeds remaining capacity.
type CapacityErrorResponse struct {
	Error      string `json:"error"`
	OfferingID string `json:"offering_id"`
	Remaining  int    `json:"remaining"`
}
