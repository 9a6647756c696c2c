package service

import "github.com/Shivanand-hulikatti/harvest-reservations/internal/model"

// Clamp limits a cart quantity to what an offering can still take. The
// result is at least 1 while anything is bookable and 0 when nothing is.
// clamped reports whether the requested quantity was changed.
//
// The capacity passed in may be stale. Clamp is advisory only and booking
// re-validates against the authoritative record.
func Clamp(requested int, c model.Capacity) (qty int, clamped bool) {
	qty = max(requested, 1)
	if !c.Unbounded {
		if c.Remaining <= 0 {
			return 0, true
		}
		qty = min(qty, c.Remaining)
	}
	return qty, qty != requested
}
