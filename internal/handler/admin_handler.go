package handler

import (
	"context"
	"time"

	"retailledger/internal/model"
	"retailledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminStats GET /api/v1/admin/stats
func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.accounts.Stats(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, stats)
}

// AdminListAccounts GET /api/v1/admin/accounts
func (h *Handler) AdminListAccounts(c *gin.Context) {
	accounts, err := h.accounts.ListAll(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, accounts)
}

// AdminCreateAccount POST /api/v1/admin/accounts
func (h *Handler) AdminCreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if !bind(c, &req) {
		return
	}
	account, err := h.accounts.CreateAccount(c.Request.Context(), req.OwnerID, req.AccountType, req.Currency)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

// AdminFreezeAccount POST /api/v1/admin/accounts/:id/freeze
func (h *Handler) AdminFreezeAccount(c *gin.Context) {
	h.accountAction(c, h.accounts.FreezeAccount)
}

// AdminUnfreezeAccount POST /api/v1/admin/accounts/:id/unfreeze
func (h *Handler) AdminUnfreezeAccount(c *gin.Context) {
	h.accountAction(c, h.accounts.UnfreezeAccount)
}

// AdminCloseAccount POST /api/v1/admin/accounts/:id/close
func (h *Handler) AdminCloseAccount(c *gin.Context) {
	h.accountAction(c, h.accounts.CloseAccount)
}

func (h *Handler) accountAction(c *gin.Context, fn func(context.Context, int64) (*model.Account, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	account, err := fn(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

// AdminListEntries GET /api/v1/admin/entries?limit=100
func (h *Handler) AdminListEntries(c *gin.Context) {
	entries, err := h.accounts.ListAllEntries(c.Request.Context(), queryLimit(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entries)
}

// AdminListStandingOrders GET /api/v1/admin/standing-orders
func (h *Handler) AdminListStandingOrders(c *gin.Context) {
	orders, err := h.orders.ListAll(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, orders)
}

// AdminRunStandingOrders POST /api/v1/admin/standing-orders/run
//
// Body is optional; as_of defaults to today (UTC).
func (h *Handler) AdminRunStandingOrders(c *gin.Context) {
	var req RunStandingOrdersRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	asOf := time.Now().UTC()
	if req.AsOf != "" {
		asOf, _ = parseDate(req.AsOf)
	}

	result, err := h.orders.RunDueOrders(c.Request.Context(), asOf)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}
