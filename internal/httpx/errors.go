package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/payments"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, payments.ErrSessionUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResp struct {
	Error     string                 `json:"error"`
	Shortfall *orders.StockShortfall `json:"shortfall,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	resp := errorResp{Error: err.Error()}
	if code == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	var short *orders.InsufficientStockError
	if errors.As(err, &short) {
		resp.Shortfall = &short.Shortfall
	}
	writeJSON(w, code, resp)
}
