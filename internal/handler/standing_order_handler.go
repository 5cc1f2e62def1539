package handler

import (
	"context"
	"time"

	"retailledger/internal/model"
	"retailledger/internal/service"
	"retailledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// CreateStandingOrder POST /api/v1/standing-orders
func (h *Handler) CreateStandingOrder(c *gin.Context) {
	var req CreateStandingOrderRequest
	if !bind(c, &req) {
		return
	}
	start, _ := parseDate(req.StartDate)
	var end *time.Time
	if req.EndDate != "" {
		d, _ := parseDate(req.EndDate)
		end = &d
	}

	order, err := h.orders.Create(c.Request.Context(), &service.CreateStandingOrderRequest{
		Principal:                principal(c),
		SourceAccountID:          req.SourceAccountID,
		DestinationAccountID:     req.DestinationAccountID,
		DestinationAccountNumber: req.DestinationAccountNumber,
		DestinationName:          req.DestinationName,
		Amount:                   req.Amount,
		Frequency:                req.Frequency,
		StartDate:                start,
		EndDate:                  end,
		Description:              req.Description,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// ListStandingOrders GET /api/v1/standing-orders
func (h *Handler) ListStandingOrders(c *gin.Context) {
	orders, err := h.orders.List(c.Request.Context(), principal(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, orders)
}

// GetStandingOrder GET /api/v1/standing-orders/:id
func (h *Handler) GetStandingOrder(c *gin.Context) {
	h.orderAction(c, h.orders.Get)
}

// UpdateStandingOrder PUT /api/v1/standing-orders/:id
func (h *Handler) UpdateStandingOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateStandingOrderRequest
	if !bind(c, &req) {
		return
	}
	update := &service.UpdateStandingOrderRequest{
		Amount:      req.Amount,
		Frequency:   req.Frequency,
		Description: req.Description,
	}
	if req.EndDate != nil {
		d, _ := parseDate(*req.EndDate)
		update.EndDate = &d
	}

	order, err := h.orders.Update(c.Request.Context(), principal(c), id, update)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// PauseStandingOrder POST /api/v1/standing-orders/:id/pause
func (h *Handler) PauseStandingOrder(c *gin.Context) {
	h.orderAction(c, h.orders.Pause)
}

// ResumeStandingOrder POST /api/v1/standing-orders/:id/resume
func (h *Handler) ResumeStandingOrder(c *gin.Context) {
	h.orderAction(c, h.orders.Resume)
}

// CancelStandingOrder DELETE /api/v1/standing-orders/:id
func (h *Handler) CancelStandingOrder(c *gin.Context) {
	h.orderAction(c, h.orders.Cancel)
}

func (h *Handler) orderAction(c *gin.Context, fn func(context.Context, string, int64) (*model.StandingOrder, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := fn(c.Request.Context(), principal(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}
