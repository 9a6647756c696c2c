// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/cache"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/repository"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader lets clients make booking submissions safe to repeat.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReservationHandler holds all HTTP handlers for the reservation API.
type ReservationHandler struct {
	svc    *service.ReservationService
	logger *zap.Logger
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(svc *service.ReservationService, logger *zap.Logger) *ReservationHandler {
	return &ReservationHandler{svc: svc, logger: logger}
}

// Mount registers the API routes on r.
func (h *ReservationHandler) Mount(r chi.Router) {
	r.Route("/offerings", func(r chi.Router) {
		r.Post("/", h.CreateOffering)
		r.Get("/{id}", h.GetOffering)
		r.Get("/{id}/capacity", h.GetCapacity)
	})
	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Get("/{id}", h.GetBooking)
		r.Post("/{id}/cancel", h.CancelBooking)
		r.Post("/{id}/status", h.AdvanceStatus)
	})
	r.Route("/buyers/{buyerID}", func(r chi.Router) {
		r.Get("/bookings", h.ListBuyerBookings)
		r.Get("/cart", h.GetCart)
		r.Put("/cart/{offeringID}", h.StageCartItem)
	})
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps engine errors to HTTP statuses.
func (h *ReservationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *service.ValidationError
		capacityErr   *service.CapacityExceededError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &capacityErr):
		writeJSON(w, http.StatusConflict, model.CapacityErrorResponse{
			Error:      "not enough capacity left",
			OfferingID: capacityErr.OfferingID,
			Remaining:  capacityErr.Remaining,
		})
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrBookingWindowClosed),
		errors.Is(err, service.ErrSoldOut):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, cache.ErrKeyInProgress):
		writeError(w, http.StatusConflict, "a booking with this idempotency key is still being processed")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, repository.ErrTransactionConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "too much contention, try again")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request timed out")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Offerings ────────────────────────────────────────────────────────────────

// CreateOffering handles POST /offerings
func (h *ReservationHandler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOfferingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	offering, err := h.svc.CreateOffering(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, offering)
}

// GetOffering handles GET /offerings/{id}
func (h *ReservationHandler) GetOffering(w http.ResponseWriter, r *http.Request) {
	offering, err := h.svc.GetOffering(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offering)
}

// GetCapacity handles GET /offerings/{id}/capacity
// The value is advisory and may lag behind recent bookings.
func (h *ReservationHandler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	capacity, err := h.svc.RemainingCapacity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, capacity)
}

// ─── Bookings ─────────────────────────────────────────────────────────────────

// CreateBooking handles POST /bookings
// Reserves capacity on every requested offering or none of them. A repeated
// Idempotency-Key returns the original booking with 200 instead of 201.
func (h *ReservationHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	booking, replayed, err := h.svc.Checkout(r.Context(), r.Header.Get(IdempotencyKeyHeader), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if replayed {
		writeJSON(w, http.StatusOK, booking)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// GetBooking handles GET /bookings/{id}
func (h *ReservationHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// ListBuyerBookings handles GET /buyers/{buyerID}/bookings
func (h *ReservationHandler) ListBuyerBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.svc.ListBuyerBookings(r.Context(), chi.URLParam(r, "buyerID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// CancelBooking handles POST /bookings/{id}/cancel
// The body is optional; it may carry a cancellation reason.
func (h *ReservationHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CancelBookingRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	booking, err := h.svc.CancelBooking(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// AdvanceStatus handles POST /bookings/{id}/status
func (h *ReservationHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	var req model.AdvanceStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	booking, err := h.svc.AdvanceStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// ─── Cart ─────────────────────────────────────────────────────────────────────

type stageCartItemResponse struct {
	Item    *model.CartItem `json:"item"`
	Warning string          `json:"warning,omitempty"`
}

// StageCartItem handles PUT /buyers/{buyerID}/cart/{offeringID}
// The staged quantity is clamped to what the offering can still take.
func (h *ReservationHandler) StageCartItem(w http.ResponseWriter, r *http.Request) {
	var req model.StageCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, warning, err := h.svc.StageCartItem(r.Context(),
		chi.URLParam(r, "buyerID"), chi.URLParam(r, "offeringID"), req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stageCartItemResponse{Item: item, Warning: warning})
}

// GetCart handles GET /buyers/{buyerID}/cart
func (h *ReservationHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Cart(r.Context(), chi.URLParam(r, "buyerID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []model.CartItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
