package handler

import (
	"strconv"

	"retailledger/internal/service"
	"retailledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler binds the HTTP surface to the services. It holds no state of its own.
type Handler struct {
	accounts  *service.AccountService
	transfers *service.TransferService
	orders    *service.StandingOrderService
	cards     *service.CardService
	log       *logrus.Logger
}

func NewHandler(
	accounts *service.AccountService,
	transfers *service.TransferService,
	orders *service.StandingOrderService,
	cards *service.CardService,
	log *logrus.Logger,
) *Handler {
	return &Handler{
		accounts:  accounts,
		transfers: transfers,
		orders:    orders,
		cards:     cards,
		log:       log,
	}
}

func principal(c *gin.Context) string {
	return c.GetString(ctxPrincipal)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "invalid id")
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return limit
}

// bind decodes the JSON body and runs its Validate method.
func bind(c *gin.Context, req interface{ Validate() error }) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return false
	}
	if err := req.Validate(); err != nil {
		response.ParamError(c, err.Error())
		return false
	}
	return true
}

// ============================================================
// Accounts
// ============================================================

// ListAccounts GET /api/v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accounts.ListAccounts(c.Request.Context(), principal(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, accounts)
}

// GetAccount GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	account, err := h.accounts.GetAccount(c.Request.Context(), principal(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

// ListEntries GET /api/v1/accounts/:id/entries?limit=50
func (h *Handler) ListEntries(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entries, err := h.accounts.ListEntries(c.Request.Context(), principal(c), id, queryLimit(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entries)
}

// LookupAccount GET /api/v1/lookup/:number
func (h *Handler) LookupAccount(c *gin.Context) {
	summary, err := h.accounts.LookupByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, summary)
}

// ============================================================
// Money movement
// ============================================================

// Transfer POST /api/v1/transfers
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if !bind(c, &req) {
		return
	}
	entry, err := h.transfers.Transfer(c.Request.Context(), &service.TransferRequest{
		RequestID:            req.RequestID,
		Principal:            principal(c),
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		DestinationNumber:    req.DestinationAccountNumber,
		Amount:               req.Amount,
		Memo:                 req.Memo,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entry)
}

// Deposit POST /api/v1/deposits
func (h *Handler) Deposit(c *gin.Context) {
	var req MovementRequest
	if !bind(c, &req) {
		return
	}
	entry, err := h.transfers.Deposit(c.Request.Context(), req.toService(principal(c)))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entry)
}

// Withdraw POST /api/v1/withdrawals
func (h *Handler) Withdraw(c *gin.Context) {
	var req MovementRequest
	if !bind(c, &req) {
		return
	}
	entry, err := h.transfers.Withdraw(c.Request.Context(), req.toService(principal(c)))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entry)
}

func (r MovementRequest) toService(principal string) *service.TransferRequest {
	return &service.TransferRequest{
		RequestID:       r.RequestID,
		Principal:       principal,
		SourceAccountID: r.AccountID,
		Amount:          r.Amount,
		Memo:            r.Memo,
	}
}
