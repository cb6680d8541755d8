package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/orchestrator"
	"github.com/ariefcatur/go-order-engine/internal/payment"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/ariefcatur/go-order-engine/internal/reservation"
	"github.com/ariefcatur/go-order-engine/internal/stock"
)

// OrderService is the slice of the orchestrator the order endpoints need.
type OrderService interface {
	CreateOrder(ctx context.Context, in orchestrator.CreateOrderInput) (*order.Order, error)
	CancelOrder(ctx context.Context, orderNo string, actorID int64, reason string) error
	CheckStock(ctx context.Context, items []reservation.LockItem) ([]reservation.Availability, error)
}

// StatusService is the state-machine surface: admin transitions and reads.
type StatusService interface {
	Get(ctx context.Context, orderNo string) (*order.Order, error)
	ChangeStatus(ctx context.Context, orderNo string, target order.Status, reason string, operatorID int64) error
	BatchChangeStatus(ctx context.Context, orderNos []string, target order.Status, reason string, operatorID int64) []order.BatchResult
	History(ctx context.Context, orderNo string) ([]order.StatusLogEntry, error)
	NextStatuses(ctx context.Context, orderNo string) (order.Status, []order.Status, error)
}

type OrdersHandler struct {
	Svc    OrderService
	Status StatusService
	Redis  *redis.Client
	Log    *zap.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderNo}", h.getOrder)
	r.Post("/orders/{orderNo}/cancel", h.cancelOrder)
	r.Get("/orders/{orderNo}/status", h.getStatus)
	r.Post("/orders/{orderNo}/status", h.changeStatus)
	r.Post("/orders/status/batch", h.batchChangeStatus)
	r.Get("/orders/{orderNo}/status/history", h.statusHistory)
	r.Get("/orders/{orderNo}/status/next", h.nextStatuses)
	r.Post("/stock/check", h.checkStock)
}

type createOrderReq struct {
	ClientRef string                   `json:"client_ref"`
	AddressID int64                    `json:"address_id"`
	Items     []orchestrator.LineInput `json:"items"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing items")
		return
	}

	o, err := h.Svc.CreateOrder(r.Context(), orchestrator.CreateOrderInput{
		UserID:    uid,
		AddressID: req.AddressID,
		ClientRef: req.ClientRef,
		Items:     req.Items,
	})
	if err != nil {
		var insufficient *reservation.InsufficientError
		switch {
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  "insufficient stock",
				"failed": insufficient.Failed,
			})
		case errors.Is(err, stock.ErrConcurrentModification):
			writeError(w, http.StatusConflict, "stock contention, retry the order")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_no":     o.OrderNo,
		"status":       int(o.Status),
		"status_name":  o.Status.String(),
		"total_amount": o.TotalAmount,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Status.Get(r.Context(), chi.URLParam(r, "orderNo"))
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req cancelReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	err := h.Svc.CancelOrder(r.Context(), chi.URLParam(r, "orderNo"), uid, req.Reason)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

type changeStatusReq struct {
	Target int    `json:"target"`
	Reason string `json:"reason"`
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req changeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	target := order.Status(req.Target)
	if !target.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %d", req.Target))
		return
	}

	err := h.Status.ChangeStatus(r.Context(), chi.URLParam(r, "orderNo"), target, req.Reason, uid)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": true})
}

type batchChangeStatusReq struct {
	OrderNos []string `json:"order_nos"`
	Target   int      `json:"target"`
	Reason   string   `json:"reason"`
}

func (h *OrdersHandler) batchChangeStatus(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req batchChangeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	target := order.Status(req.Target)
	if !target.Valid() || len(req.OrderNos) == 0 {
		writeError(w, http.StatusBadRequest, "missing order_nos or unknown status")
		return
	}

	results := h.Status.BatchChangeStatus(r.Context(), req.OrderNos, target, req.Reason, uid)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// getStatus serves the display status, preferring the worker-maintained
// cache over a database read. Display tolerates a briefly stale answer.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderNo)
		if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
			var cached struct {
				Status int `json:"status"`
			}
			if json.Unmarshal([]byte(s), &cached) == nil {
				st := order.Status(cached.Status)
				if st.Valid() {
					writeJSON(w, http.StatusOK, map[string]any{
						"order_no":    orderNo,
						"status":      int(st),
						"status_name": st.String(),
					})
					return
				}
			}
		}
	}

	o, err := h.Status.Get(r.Context(), orderNo)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_no":    o.OrderNo,
		"status":      int(o.Status),
		"status_name": o.Status.String(),
	})
}

func (h *OrdersHandler) statusHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Status.History(r.Context(), chi.URLParam(r, "orderNo"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// nextStatuses always reads the current status from the database. The Redis
// cache can lag a transition, and a stale answer here would offer moves that
// are no longer legal.
func (h *OrdersHandler) nextStatuses(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")

	cur, _, err := h.Status.NextStatuses(r.Context(), orderNo)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeNextStatuses(w, cur)
}

func writeNextStatuses(w http.ResponseWriter, cur order.Status) {
	next := order.Next(cur)
	out := make([]map[string]any, 0, len(next))
	for _, s := range next {
		out = append(out, map[string]any{"status": int(s), "status_name": s.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current":      int(cur),
		"current_name": cur.String(),
		"next":         out,
	})
}

type checkStockReq struct {
	Items []reservation.LockItem `json:"items"`
}

func (h *OrdersHandler) checkStock(w http.ResponseWriter, r *http.Request) {
	var req checkStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing items")
		return
	}
	avail, err := h.Svc.CheckStock(r.Context(), req.Items)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	all := true
	for _, a := range avail {
		if !a.Sufficient {
			all = false
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"all_available": all, "items": avail})
}

// writeTransitionError maps state-machine failures onto responses that say
// where the order actually is, without leaking row internals.
func writeTransitionError(w http.ResponseWriter, err error) {
	var illegal *order.IllegalTransitionError
	switch {
	case errors.As(err, &illegal):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "illegal status transition",
			"current":        int(illegal.From),
			"current_name":   illegal.From.String(),
			"requested":      int(illegal.To),
			"requested_name": illegal.To.String(),
		})
	case errors.Is(err, payment.ErrNotOwner):
		writeError(w, http.StatusForbidden, "order belongs to another user")
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
