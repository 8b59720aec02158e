package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
	"github.com/alanyoungcy/bagrabridge/internal/service"
)

const missingFieldsMsg = "Missing required fields: ticker, action, side, count, type"

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	CreateOrder(ctx context.Context, req service.OrderRequest) (service.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (kalshi.Order, error)
	Orders(ctx context.Context, f kalshi.OrderFilter) ([]kalshi.Order, error)
	Fills(ctx context.Context, f kalshi.FillFilter) ([]kalshi.Fill, error)
}

// OrderHandler serves order placement and order history.
type OrderHandler struct {
	orders   OrderService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "order")),
	}
}

// CreateOrder places an order and reports the share mint it triggered.
// A market order goes out at 99 on its side with no price on the other;
// any yesPrice or noPrice in the body is ignored for it.
// POST /api/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Details: err.Error()})
		return
	}
	req.Action = strings.ToLower(req.Action)
	req.Side = strings.ToLower(req.Side)
	req.Type = strings.ToLower(req.Type)

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					writeError(w, http.StatusBadRequest, missingFieldsMsg)
					return
				}
			}
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid order", Details: err.Error()})
		return
	}

	res, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelOrder cancels a resting order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// ListOrders returns the account's orders.
// GET /api/orders?ticker&event_ticker&status&min_ts&max_ts&limit&cursor
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.orders.Orders(r.Context(), kalshi.OrderFilter{
		Ticker:      q.Get("ticker"),
		EventTicker: q.Get("event_ticker"),
		Status:      q.Get("status"),
		MinTs:       queryInt(r, "min_ts"),
		MaxTs:       queryInt(r, "max_ts"),
		Limit:       int(queryInt(r, "limit")),
		Cursor:      q.Get("cursor"),
	})
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch orders", err)
		return
	}
	if orders == nil {
		orders = []kalshi.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListFills returns the account's fills.
// GET /api/fills?ticker&order_id&min_ts&max_ts&limit&cursor
func (h *OrderHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fills, err := h.orders.Fills(r.Context(), kalshi.FillFilter{
		Ticker:  q.Get("ticker"),
		OrderID: q.Get("order_id"),
		MinTs:   queryInt(r, "min_ts"),
		MaxTs:   queryInt(r, "max_ts"),
		Limit:   int(queryInt(r, "limit")),
		Cursor:  q.Get("cursor"),
	})
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch fills", err)
		return
	}
	if fills == nil {
		fills = []kalshi.Fill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fills": fills})
}
