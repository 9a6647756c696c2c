package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestOfferingCapacity(t *testing.T) {
	o := Offering{Limit: intPtr(50), Reserved: 40}
	assert.Equal(t, Capacity{Remaining: 10}, o.Capacity())
	assert.True(t, o.Capacity().Covers(10))
	assert.False(t, o.Capacity().Covers(15))

	o.Reserved = 60
	assert.Equal(t, 0, o.Capacity().Remaining, "remaining is floored at zero")

	unlimited := Offering{}
	assert.True(t, unlimited.Capacity().Unbounded)
	assert.True(t, unlimited.Capacity().Covers(1_000_000))
}

func TestOfferingInBookingWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	o := Offering{BookingStart: &start, BookingEnd: &end}

	assert.False(t, o.InBookingWindow(start.Add(-time.Second)))
	assert.True(t, o.InBookingWindow(start))
	assert.True(t, o.InBookingWindow(end))
	assert.False(t, o.InBookingWindow(end.Add(time.Second)))
	assert.True(t, (&Offering{}).InBookingWindow(end), "open window")
}

func TestBookingTotalAndQuantities(t *testing.T) {
	b := Booking{Items: []LineItem{
		{OfferingID: "a", Quantity: 2, UnitPrice: decimal.RequireFromString("1.25")},
		{OfferingID: "b", Quantity: 1, UnitPrice: decimal.RequireFromString("10")},
		{OfferingID: "a", Quantity: 3, UnitPrice: decimal.RequireFromString("1.25")},
	}}
	assert.True(t, decimal.RequireFromString("16.25").Equal(b.Total()))

	order, totals := b.QuantityByOffering()
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, map[string]int{"a": 5, "b": 1}, totals)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to BookingStatus
		ok       bool
	}{
		{StatusPending, StatusWaitingDelivery, true},
		{StatusWaitingDelivery, StatusConfirmed, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusWaitingDelivery, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},

		{StatusPending, StatusCompleted, false},
		{StatusWaitingDelivery, StatusCompleted, false},
		{StatusPending, StatusConfirmed, false},
		{StatusConfirmed, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBookingStatusJSON(t *testing.T) {
	var req AdvanceStatusRequest
	require.NoError(t, json.Unmarshal([]byte(`{"status":"waitingDelivery"}`), &req))
	assert.Equal(t, StatusWaitingDelivery, req.Status)

	err := json.Unmarshal([]byte(`{"status":"shipped"}`), &req)
	assert.Error(t, err)
}
