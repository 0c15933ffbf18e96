package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/rizalf/go-pickup-orders/internal/fulfill"
	"github.com/rizalf/go-pickup-orders/internal/redisx"
)

// FulfillmentHandler exposes the engine's operation surface. Redis and
// Metrics are optional; a nil Redis disables the status cache.
type FulfillmentHandler struct {
	Service  *fulfill.Service
	Redis    *redis.Client
	Metrics  *Metrics
	validate *validator.Validate
}

func NewFulfillmentHandler(svc *fulfill.Service, rdb *redis.Client, m *Metrics) *FulfillmentHandler {
	return &FulfillmentHandler{
		Service:  svc,
		Redis:    rdb,
		Metrics:  m,
		validate: validator.New(),
	}
}

func (h *FulfillmentHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/accept", h.acceptOrder)
	r.Post("/orders/{id}/reject", h.rejectOrder)
	r.Post("/orders/{id}/prepare", h.prepareOrder)
	r.Post("/orders/{id}/ready", h.readyOrder)

	r.Get("/vendors/{id}/can-accept", h.canAccept)
	r.Get("/vendors/{id}/active-orders", h.activeOrders)
	r.Post("/vendors/{id}/sequence", h.nextSequence)
	r.Get("/vendors/{id}/eta", h.estimateEta)
	r.Get("/vendors/{id}/items/{itemID}/availability", h.itemAvailability)
	r.Post("/vendors/{id}/items/{itemID}/stock", h.setStock)
	r.Post("/vendors/{id}/items/{itemID}/stock/reduce", h.reduceStock)

	r.Post("/tokens", h.newToken)
	r.Post("/vendors/{id}/redemptions/code", h.redeemByCode)
	r.Post("/vendors/{id}/redemptions/token", h.redeemByToken)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP: missing things are 404,
// admission and stock denials 422, lifecycle and redemption conflicts 409.
func statusFor(err error) int {
	var invalid *fulfill.InvalidTransitionError
	switch {
	case errors.Is(err, fulfill.ErrOrderNotFound), errors.Is(err, fulfill.ErrVendorNotFound):
		return http.StatusNotFound
	case fulfill.IsAdmissionDenied(err), fulfill.IsStockError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fulfill.ErrTokenAlreadyUsed), errors.Is(err, fulfill.ErrOrderNotReady), errors.As(err, &invalid):
		return http.StatusConflict
	case errors.Is(err, fulfill.ErrNoItems), errors.Is(err, fulfill.ErrInvalidQty):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type orderResponse struct {
	ID                 string     `json:"id"`
	VendorID           string     `json:"vendor_id"`
	BuyerID            string     `json:"buyer_id"`
	Status             string     `json:"status"`
	PaymentStatus      string     `json:"payment_status"`
	PickupCode         string     `json:"pickup_code"`
	RedemptionToken    string     `json:"redemption_token,omitempty"`
	SequenceNo         int        `json:"sequence_no"`
	TotalCents         int        `json:"total_cents"`
	EstimatedReadyTime *time.Time `json:"estimated_ready_time,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toOrderResponse(o fulfill.Order) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		VendorID:           o.VendorID,
		BuyerID:            o.BuyerID,
		Status:             string(o.Status),
		PaymentStatus:      string(o.PaymentStatus),
		PickupCode:         o.PickupCode,
		RedemptionToken:    o.RedemptionToken,
		SequenceNo:         o.SequenceNo,
		TotalCents:         o.TotalCents,
		EstimatedReadyTime: o.EstimatedReadyTime,
		CreatedAt:          o.CreatedAt,
	}
}

func (h *FulfillmentHandler) cacheStatus(ctx context.Context, o fulfill.Order) {
	if h.Redis == nil {
		return
	}
	b, _ := json.Marshal(map[string]string{"status": string(o.Status)})
	_ = h.Redis.Set(ctx, redisx.KeyOrderStatus(o.ID), b, redisx.TTLOrderStatus).Err()
}

func (h *FulfillmentHandler) countCheckout(outcome string) {
	if h.Metrics != nil {
		h.Metrics.CheckoutTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *FulfillmentHandler) countRedemption(credential, outcome string) {
	if h.Metrics != nil {
		h.Metrics.RedemptionTotal.WithLabelValues(credential, outcome).Inc()
	}
}

type checkoutItemReq struct {
	MenuItemID string `json:"menu_item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"min=1"`
}

type checkoutReq struct {
	VendorID string            `json:"vendor_id" validate:"required"`
	BuyerID  string            `json:"buyer_id" validate:"required"`
	Items    []checkoutItemReq `json:"items" validate:"required,min=1,dive"`
}

func (h *FulfillmentHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	in := fulfill.CheckoutInput{VendorID: req.VendorID, BuyerID: req.BuyerID}
	for _, it := range req.Items {
		in.Items = append(in.Items, fulfill.CheckoutItem{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
	}

	o, err := h.Service.Checkout(ctx, in)
	if err != nil {
		switch {
		case fulfill.IsAdmissionDenied(err):
			h.countCheckout("admission_denied")
		case fulfill.IsStockError(err):
			h.countCheckout("stock_denied")
		default:
			h.countCheckout("error")
		}
		writeError(w, err)
		return
	}
	h.countCheckout("ok")
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *FulfillmentHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *FulfillmentHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, redisx.KeyOrderStatus(orderID)).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}
	o, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(o.Status)})
}

func (h *FulfillmentHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, orderID string) (fulfill.Order, error)) {

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := fn(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *FulfillmentHandler) acceptOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Accept)
}

func (h *FulfillmentHandler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.transition(w, r, func(ctx context.Context, orderID string) (fulfill.Order, error) {
		return h.Service.Reject(ctx, orderID, req.Reason)
	})
}

func (h *FulfillmentHandler) prepareOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.StartPreparing)
}

func (h *FulfillmentHandler) readyOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.MarkReady)
}

func (h *FulfillmentHandler) canAccept(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	err := h.Service.CanVendorAccept(ctx, chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"can_accept": true})
	case fulfill.IsAdmissionDenied(err):
		writeJSON(w, http.StatusOK, map[string]any{"can_accept": false, "reason": err.Error()})
	default:
		writeError(w, err)
	}
}

func (h *FulfillmentHandler) activeOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Service.ActiveOrderCount(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *FulfillmentHandler) nextSequence(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	seq, err := h.Service.NextSequenceNo(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sequence_no": seq})
}

func (h *FulfillmentHandler) estimateEta(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("items"))
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing items"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	eta, err := h.Service.EstimateEta(ctx, chi.URLParam(r, "id"), strings.Split(raw, ","))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"estimated_ready_time": eta})
}

func (h *FulfillmentHandler) itemAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	av, err := h.Service.CheckItemAvailability(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"available": av.Available}
	if av.Remaining != nil {
		resp["remaining"] = *av.Remaining
	}
	if av.Reason != "" {
		resp["reason"] = av.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FulfillmentHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Service.SetDailyStock(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), req.Total); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "remaining": req.Total})
}

func (h *FulfillmentHandler) reduceStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	remaining, err := h.Service.ReduceDailyStock(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), req.Quantity)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "remaining": remaining})
}

func (h *FulfillmentHandler) newToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"token": h.Service.GenerateRedemptionToken()})
}

func (h *FulfillmentHandler) redeemByCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.RedeemByCode(ctx, chi.URLParam(r, "id"), req.Code)
	if err != nil {
		h.countRedemption("code", "denied")
		writeJSON(w, statusFor(err), map[string]any{"success": false, "error": err.Error()})
		return
	}
	h.countRedemption("code", "ok")
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order_id": o.ID})
}

func (h *FulfillmentHandler) redeemByToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing token"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.RedeemByToken(ctx, chi.URLParam(r, "id"), req.Token)
	if err != nil {
		h.countRedemption("token", "denied")
		writeJSON(w, statusFor(err), map[string]any{"success": false, "error": err.Error()})
		return
	}
	h.countRedemption("token", "ok")
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order_id": o.ID})
}
