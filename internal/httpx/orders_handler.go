package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
	"github.com/ariefcatur/go-order-reservations/internal/payments"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Idempotency maps a client Idempotency-Key to the order it created.
// Reserve claims the key; when it is taken it returns the stored order id,
// or "" while the first request is still running.
type Idempotency interface {
	Reserve(ctx context.Context, userID, key string) (orderID string, reserved bool, err error)
	Remember(ctx context.Context, userID, key, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

type OrdersHandler struct {
	Orders   *orders.Service
	Payments *payments.Service
	Idem     Idempotency // optional
	Log      *zap.Logger
}

type OrderItemResp struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type PaymentResp struct {
	Status        orders.PaymentStatus `json:"status"`
	AmountCents   int64                `json:"amount_cents"`
	TransactionID string               `json:"transaction_id,omitempty"`
}

type OrderResp struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Status       orders.Status       `json:"status"`
	TotalCents   int64               `json:"total_cents"`
	Items        []OrderItemResp     `json:"items"`
	Payment      *PaymentResp        `json:"payment,omitempty"`
	CancelledBy  string              `json:"cancelled_by,omitempty"`
	CancelReason orders.CancelReason `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type CreateOrderResp struct {
	Order      OrderResp `json:"order"`
	PaymentURL string    `json:"payment_url,omitempty"`
	Idempotent bool      `json:"idempotent"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireActor)
		r.Post("/orders", h.createOrder)
		r.Post("/orders/checkout", h.checkout)
		r.Get("/orders", h.listMine)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/pay", h.pay)
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Get("/admin/orders", h.listAll)
		r.Patch("/admin/orders/{id}/status", h.updateStatus)
	})
}

func toResp(o *orders.Order) OrderResp {
	resp := OrderResp{
		ID:           o.ID,
		UserID:       o.UserID,
		Status:       o.Status,
		TotalCents:   o.TotalCents,
		Items:        make([]OrderItemResp, 0, len(o.Items)),
		CancelledBy:  o.CancelledBy,
		CancelReason: o.CancelReason,
		CancelledAt:  o.CancelledAt,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResp{ProductID: it.ProductID, Qty: it.Qty, PriceCents: it.PriceCents})
	}
	if p := o.Payment; p != nil {
		resp.Payment = &PaymentResp{Status: p.Status, AmountCents: p.AmountCents, TransactionID: p.TransactionID}
	}
	return resp
}

func toRespList(list []orders.Order) []OrderResp {
	out := make([]OrderResp, 0, len(list))
	for i := range list {
		out = append(out, toResp(&list[i]))
	}
	return out
}

// claim reserves the Idempotency-Key before any work. It reports false when
// the response has already been written: a replay of the earlier order, or a
// conflict while that request is still running.
func (h *OrdersHandler) claim(ctx context.Context, w http.ResponseWriter, actor orders.Actor, key string) bool {
	if h.Idem == nil || key == "" {
		return true
	}
	id, reserved, err := h.Idem.Reserve(ctx, actor.UserID, key)
	if err != nil {
		h.Log.Warn("idempotency reserve failed", zap.Error(err))
		return true
	}
	if reserved {
		return true
	}
	if id == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a request with this Idempotency-Key is still in progress"})
		return false
	}
	o, err := h.Orders.Get(ctx, id, actor)
	if err != nil {
		writeError(w, err)
		return false
	}
	writeJSON(w, http.StatusOK, CreateOrderResp{Order: toResp(o), Idempotent: true})
	return false
}

// settle records the order a claimed key produced, or frees the key when
// nothing was created so the client can retry.
func (h *OrdersHandler) settle(ctx context.Context, actor orders.Actor, key string, o *orders.Order) {
	if h.Idem == nil || key == "" {
		return
	}
	var err error
	if o != nil {
		err = h.Idem.Remember(ctx, actor.UserID, key, o.ID)
	} else {
		err = h.Idem.Release(ctx, actor.UserID, key)
	}
	if err != nil {
		h.Log.Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
	}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	key := r.Header.Get("Idempotency-Key")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if !h.claim(ctx, w, actor, key) {
		return
	}

	o, err := h.Orders.CreateOrder(ctx, actor.UserID, orders.PayLater)
	h.settle(ctx, actor, key, o)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{Order: toResp(o)})
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	key := r.Header.Get("Idempotency-Key")

	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	if !h.claim(ctx, w, actor, key) {
		return
	}

	o, url, err := h.Payments.Checkout(ctx, actor)
	h.settle(ctx, actor, key, o)
	if err != nil {
		if o != nil && errors.Is(err, payments.ErrSessionUnavailable) {
			// order tetap ada; client bisa retry lewat /orders/{id}/pay
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "order": toResp(o)})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{Order: toResp(o), PaymentURL: url})
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListMine(ctx, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRespList(list))
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.ListAll(ctx, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRespList(list))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *OrdersHandler) pay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	url, err := h.Payments.Initiate(ctx, chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_url": url})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Cancel(ctx, chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	to, ok := orders.ParseStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, chi.URLParam(r, "id"), to, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}
