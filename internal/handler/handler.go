// Package handler serves the local order API.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/orderwatch/internal/domain/order"
	"github.com/xenking/orderwatch/internal/reconcile"
)

// Orders reads the working set.
type Orders interface {
	Get(id string) (*order.Order, bool)
	List() []*order.Order
}

// Refresher runs a reconciliation cycle for one order.
type Refresher interface {
	Reconcile(ctx context.Context, id string) (reconcile.Result, error)
}

// Actions runs buyer actions.
type Actions interface {
	Cancel(ctx context.Context, id, reasonID string) (*order.Order, error)
	ConfirmDelivery(ctx context.Context, id string) (*order.Order, error)
	RecordReview(ctx context.Context, id string) (*order.Order, error)
	CancelReasons(ctx context.Context) ([]order.CancelReason, error)
}

// Views mounts and unmounts refresh pollers.
type Views interface {
	MountList(ctx context.Context) error
	UnmountList()
	MountDetail(ctx context.Context, id string) error
	Unmount(id string) bool
	Focus() int
}

// Handler serves the API routes.
type Handler struct {
	orders  Orders
	refresh Refresher
	actions Actions
	views   Views
}

// NewHandler creates a Handler.
func NewHandler(orders Orders, refresh Refresher, actions Actions, views Views) *Handler {
	return &Handler{
		orders:  orders,
		refresh: refresh,
		actions: actions,
		views:   views,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("POST /api/orders/{id}/confirm-delivery", h.ConfirmDelivery)
	mux.HandleFunc("POST /api/orders/{id}/review", h.RecordReview)
	mux.HandleFunc("GET /api/cancel-reasons", h.CancelReasons)

	mux.HandleFunc("POST /api/views/orders", h.MountList)
	mux.HandleFunc("DELETE /api/views/orders", h.UnmountList)
	mux.HandleFunc("POST /api/views/orders/{id}", h.MountDetail)
	mux.HandleFunc("DELETE /api/views/orders/{id}", h.UnmountDetail)
	mux.HandleFunc("POST /api/focus", h.Focus)
}
