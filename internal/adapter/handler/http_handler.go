package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/core/service"
)

// HTTPHandler is the thin HTTP collaborator. Authentication lives in front
// of it; requests carry the user ID the surrounding session layer resolved.
type HTTPHandler struct {
	orders *service.OrderService
	shops  *service.ShopService
	log    *zap.Logger
}

type PurchaseRequest struct {
	UserID    int64 `json:"user_id"`
	VoucherID int64 `json:"voucher_id"`
}

type PurchaseResponse struct {
	Admitted bool   `json:"admitted"`
	OrderID  int64  `json:"order_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func NewHTTPHandler(orders *service.OrderService, shops *service.ShopService, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orders: orders, shops: shops, log: log}
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, PurchaseResponse{Reason: "invalid request body"})
		return
	}
	if req.UserID <= 0 || req.VoucherID <= 0 {
		writeJSON(w, http.StatusBadRequest, PurchaseResponse{Reason: "missing required fields"})
		return
	}

	orderID, err := h.orders.Purchase(r.Context(), req.UserID, req.VoucherID)
	if err != nil {
		status := http.StatusInternalServerError
		reason := "internal error"

		switch {
		case errors.Is(err, service.ErrOutOfStock):
			status, reason = http.StatusGone, "out of stock"
		case errors.Is(err, service.ErrDuplicateOrder):
			status, reason = http.StatusConflict, "already purchased"
		case errors.Is(err, service.ErrSaleNotStarted):
			status, reason = http.StatusForbidden, "sale not started"
		case errors.Is(err, service.ErrSaleEnded):
			status, reason = http.StatusForbidden, "sale ended"
		case errors.Is(err, service.ErrVoucherNotFound):
			status, reason = http.StatusNotFound, "voucher not found"
		default:
			h.log.Error("purchase failed", zap.Int64("user", req.UserID),
				zap.Int64("voucher", req.VoucherID), zap.Error(err))
		}

		writeJSON(w, status, PurchaseResponse{Reason: reason})
		return
	}

	writeJSON(w, http.StatusOK, PurchaseResponse{Admitted: true, OrderID: orderID})
}

// OrderStatus reports whether an admitted purchase has been fulfilled yet.
func (h *HTTPHandler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, err1 := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	voucherID, err2 := strconv.ParseInt(r.URL.Query().Get("voucher_id"), 10, 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "user_id and voucher_id required", http.StatusBadRequest)
		return
	}

	order, err := h.orders.OrderStatus(r.Context(), userID, voucherID)
	if err != nil {
		h.log.Error("order status failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if order == nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":   order.ID,
		"user_id":    order.UserID,
		"voucher_id": order.VoucherID,
		"created_at": order.CreatedAt,
	})
}

func (h *HTTPHandler) Shop(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getShop(w, r)
	case http.MethodPut:
		h.updateShop(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) getShop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	shop, err := h.shops.GetByID(r.Context(), id)
	if err != nil {
		h.log.Error("shop read failed", zap.Int64("shop", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if shop == nil {
		http.Error(w, "shop not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (h *HTTPHandler) updateShop(w http.ResponseWriter, r *http.Request) {
	var shop domain.Shop
	if err := json.NewDecoder(r.Body).Decode(&shop); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.shops.Update(r.Context(), shop); err != nil {
		h.log.Error("shop update failed", zap.Int64("shop", shop.ID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
