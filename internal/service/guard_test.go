package service

import (
	"testing"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name        string
		requested   int
		capacity    model.Capacity
		wantQty     int
		wantClamped bool
	}{
		{"fits", 3, model.Bounded(5), 3, false},
		{"exactly remaining", 5, model.Bounded(5), 5, false},
		{"above remaining", 8, model.Bounded(5), 5, true},
		{"below one", 0, model.Bounded(5), 1, true},
		{"negative", -4, model.Bounded(5), 1, true},
		{"sold out", 2, model.Bounded(0), 0, true},
		{"unbounded", 1000, model.Unbounded(), 1000, false},
		{"unbounded below one", 0, model.Unbounded(), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, clamped := Clamp(tt.requested, tt.capacity)
			assert.Equal(t, tt.wantQty, qty)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}
