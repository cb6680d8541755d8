package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-engine/internal/order"
	"github.com/ariefcatur/go-order-engine/internal/payment"
)

// PaymentStore covers record creation and reads on the reconciler.
type PaymentStore interface {
	CreatePayment(ctx context.Context, orderNo string, ch payment.Channel, userID int64) (*payment.Record, error)
	Get(ctx context.Context, paymentNo string, userID int64) (*payment.Record, error)
	ListByOrder(ctx context.Context, orderNo string) ([]payment.Record, error)
}

// PaymentFlow covers the orchestrated paths: gateway callbacks and refunds.
type PaymentFlow interface {
	HandleCallback(ctx context.Context, ch payment.Channel, payload []byte) (*payment.Outcome, error)
	ApplyRefund(ctx context.Context, orderNo, reason string, operatorID int64) error
	ResolveRefund(ctx context.Context, orderNo string, approve bool, reason string, operatorID int64) error
}

type PaymentsHandler struct {
	Store PaymentStore
	Flow  PaymentFlow
	Log   *zap.Logger
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Post("/payments", h.createPayment)
	r.Get("/payments/{paymentNo}", h.getPayment)
	r.Get("/orders/{orderNo}/payments", h.listPayments)
	r.Post("/payments/callback/{channel}", h.callback)
	r.Post("/orders/{orderNo}/refund", h.applyRefund)
	r.Post("/orders/{orderNo}/refund/resolve", h.resolveRefund)
}

type createPaymentReq struct {
	OrderNo string `json:"order_no"`
	Method  int    `json:"method"`
}

func (h *PaymentsHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req createPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNo == "" {
		writeError(w, http.StatusBadRequest, "missing order_no")
		return
	}
	ch, err := payment.ChannelFromID(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown payment method")
		return
	}

	rec, err := h.Store.CreatePayment(r.Context(), req.OrderNo, ch, uid)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, payment.ErrNotOwner):
			writeError(w, http.StatusForbidden, "order belongs to another user")
		case errors.Is(err, payment.ErrNotPayable):
			writeError(w, http.StatusConflict, "order is not awaiting payment")
		case errors.Is(err, payment.ErrAlreadyPaid):
			writeError(w, http.StatusConflict, "order already has a successful payment")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"payment_no": rec.PaymentNo,
		"order_no":   rec.OrderNo,
		"amount":     rec.Amount,
		"channel":    rec.Channel,
		"status":     rec.Status,
	})
}

func (h *PaymentsHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	rec, err := h.Store.Get(r.Context(), chi.URLParam(r, "paymentNo"), uid)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, payment.ErrNotOwner):
			writeError(w, http.StatusForbidden, "payment belongs to another user")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *PaymentsHandler) listPayments(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.ListByOrder(r.Context(), chi.URLParam(r, "orderNo"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": recs})
}

// callback accepts at-least-once gateway notifications. The response body is
// the token the channel expects, so a retrying gateway stops once we have
// durably recorded the outcome. Anything we could not apply gets the channel's
// failure token and the gateway retries.
func (h *PaymentsHandler) callback(w http.ResponseWriter, r *http.Request) {
	ch := payment.Channel(chi.URLParam(r, "channel"))
	if !payment.ValidChannel(ch) {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeAck(w, ch, false)
		return
	}

	out, err := h.Flow.HandleCallback(r.Context(), ch, body)
	if err != nil {
		var mismatch *payment.AmountMismatchError
		if errors.As(err, &mismatch) {
			h.Log.Warn("callback amount mismatch",
				zap.String("payment_no", mismatch.PaymentNo),
				zap.String("declared", mismatch.Declared.String()),
				zap.String("expected", mismatch.Expected.String()))
		} else {
			h.Log.Error("callback failed", zap.String("channel", string(ch)), zap.Error(err))
		}
		h.writeAck(w, ch, false)
		return
	}
	if out.Duplicate {
		h.Log.Info("callback replayed, already settled",
			zap.String("payment_no", out.PaymentNo),
			zap.String("order_no", out.OrderNo))
	}
	h.writeAck(w, ch, true)
}

func (h *PaymentsHandler) writeAck(w http.ResponseWriter, ch payment.Channel, ok bool) {
	body, contentType := payment.Ack(ch, ok)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type refundReq struct {
	Reason string `json:"reason"`
}

func (h *PaymentsHandler) applyRefund(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req refundReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "missing reason")
		return
	}

	if err := h.Flow.ApplyRefund(r.Context(), chi.URLParam(r, "orderNo"), req.Reason, uid); err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": true})
}

type resolveRefundReq struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

func (h *PaymentsHandler) resolveRefund(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	var req resolveRefundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.Flow.ResolveRefund(r.Context(), chi.URLParam(r, "orderNo"), req.Approve, req.Reason, uid); err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}
