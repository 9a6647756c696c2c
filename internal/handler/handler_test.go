package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Shivanand-hulikatti/harvest-reservations/internal/cache"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/model"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/repository"
	"github.com/Shivanand-hulikatti/harvest-reservations/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := service.NewReservationService(repository.NewMemoryStore(),
		service.WithIdempotency(cache.NewIdempotencyMemory()),
	)
	r := chi.NewRouter()
	r.Use(Logger(zap.NewNop()))
	r.Use(CORS)
	r.Get("/health", HealthCheck)
	NewReservationHandler(svc, zap.NewNop()).Mount(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createOffering(t *testing.T, srv *httptest.Server, limit int) model.Offering {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/offerings", map[string]any{
		"seller_id":  "farm-1",
		"name":       "Honey pomelo",
		"unit_price": "3.20",
		"limit":      limit,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Offering](t, resp)
}

func bookingBody(buyer, offeringID string, qty int) map[string]any {
	return map[string]any{
		"buyer_id": buyer,
		"items":    []map[string]any{{"offering_id": offeringID, "quantity": qty}},
		"shipping": map[string]any{"name": "A. Buyer", "address": "1 Orchard Rd"},
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, resp))
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	o := createOffering(t, srv, 10)

	resp := do(t, srv, http.MethodPost, "/bookings", bookingBody("buyer-1", o.ID, 6))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	booking := decode[model.Booking](t, resp)
	assert.Equal(t, model.StatusPending, booking.Status)

	resp = do(t, srv, http.MethodPost, "/bookings", bookingBody("buyer-2", o.ID, 6))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	capErr := decode[model.CapacityErrorResponse](t, resp)
	assert.Equal(t, o.ID, capErr.OfferingID)
	assert.Equal(t, 4, capErr.Remaining)

	resp = do(t, srv, http.MethodGet, "/offerings/"+o.ID+"/capacity", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.Bounded(4), decode[model.Capacity](t, resp))

	resp = do(t, srv, http.MethodPost, "/bookings/"+booking.ID+"/status", map[string]string{"status": "confirmed"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/bookings/"+booking.ID+"/status", map[string]string{"status": "waitingDelivery"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusWaitingDelivery, decode[model.Booking](t, resp).Status)

	resp = do(t, srv, http.MethodPost, "/bookings/"+booking.ID+"/cancel", map[string]string{"reason": "moved away"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[model.Booking](t, resp)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, "moved away", cancelled.CancelReason)

	resp = do(t, srv, http.MethodGet, "/offerings/"+o.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[model.Offering](t, resp).Reserved)

	resp = do(t, srv, http.MethodGet, "/buyers/buyer-1/bookings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Booking](t, resp), 1)
}

func TestCancelWithoutBody(t *testing.T) {
	srv := newTestServer(t)
	o := createOffering(t, srv, 10)
	resp := do(t, srv, http.MethodPost, "/bookings", bookingBody("buyer-1", o.ID, 1))
	booking := decode[model.Booking](t, resp)

	resp = do(t, srv, http.MethodPost, "/bookings/"+booking.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIdempotentBooking(t *testing.T) {
	srv := newTestServer(t)
	o := createOffering(t, srv, 10)

	resp := do(t, srv, http.MethodPost, "/bookings", bookingBody("buyer-1", o.ID, 2), IdempotencyKeyHeader, "abc")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[model.Booking](t, resp)

	resp = do(t, srv, http.MethodPost, "/bookings", bookingBody("buyer-1", o.ID, 2), IdempotencyKeyHeader, "abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.ID, decode[model.Booking](t, resp).ID)

	resp = do(t, srv, http.MethodGet, "/offerings/"+o.ID, nil)
	assert.Equal(t, 2, decode[model.Offering](t, resp).Reserved)
}

func TestCartOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	o := createOffering(t, srv, 3)

	resp := do(t, srv, http.MethodPut, "/buyers/buyer-1/cart/"+o.ID, map[string]int{"quantity": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	staged := decode[stageCartItemResponse](t, resp)
	require.NotNil(t, staged.Item)
	assert.Equal(t, 3, staged.Item.Quantity)
	assert.NotEmpty(t, staged.Warning)

	resp = do(t, srv, http.MethodGet, "/buyers/buyer-1/cart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.CartItem](t, resp), 1)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown booking", http.MethodGet, "/bookings/nope", nil, http.StatusNotFound},
		{"unknown offering", http.MethodGet, "/offerings/nope", nil, http.StatusNotFound},
		{"booking unknown offering", http.MethodPost, "/bookings", bookingBody("buyer-1", "nope", 1), http.StatusNotFound},
		{"oversized quantity", http.MethodPost, "/bookings", bookingBody("buyer-1", "nope", 2_000_000), http.StatusBadRequest},
		{"empty items", http.MethodPost, "/bookings", map[string]any{"buyer_id": "b", "items": []any{}}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/offerings", map[string]any{"colour": "red"}, http.StatusBadRequest},
		{"unknown status", http.MethodPost, "/bookings/x/status", map[string]string{"status": "shipped"}, http.StatusBadRequest},
		{"missing offering name", http.MethodPost, "/offerings", map[string]any{"seller_id": "farm-1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, decode[model.ErrorResponse](t, resp).Error)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodOptions, "/bookings", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
