package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/payments"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 16

type WebhookHandler struct {
	Verifier   *payments.WebhookVerifier
	Dispatcher payments.Dispatcher
	Log        *zap.Logger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/stripe", h.stripe)
}

// stripe verifies the provider signature and hands the event to reconciliation.
// A 5xx makes the provider redeliver; reconciliation errors that a retry cannot
// fix are acknowledged with 200 and logged.
func (h *WebhookHandler) stripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Log.Warn("webhook body too large", zap.Int64("limit", tooLarge.Limit))
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	ev, err := h.Verifier.Parse(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.Log.Warn("webhook rejected", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Dispatcher.Dispatch(ctx, ev); err != nil {
		if errors.Is(err, orders.ErrReconciliation) {
			h.Log.Error("webhook not reconcilable",
				zap.String("event_id", ev.ID),
				zap.String("order_id", ev.OrderID),
				zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.Log.Error("webhook dispatch failed", zap.String("event_id", ev.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
