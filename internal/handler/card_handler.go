package handler

import (
	"retailledger/internal/service"
	"retailledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// CreateCard POST /api/v1/cards
func (h *Handler) CreateCard(c *gin.Context) {
	var req CreateCardRequest
	if !bind(c, &req) {
		return
	}
	card, err := h.cards.CreateCard(c.Request.Context(), &service.CreateCardRequest{
		Principal:     principal(c),
		AccountID:     req.AccountID,
		HolderName:    req.CardHolderName,
		SpendingLimit: req.SpendingLimit,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	// the CVV is shown once, at creation
	response.Success(c, gin.H{
		"card": card,
		"cvv":  card.CVV,
	})
}

// ListCards GET /api/v1/cards
func (h *Handler) ListCards(c *gin.Context) {
	cards, err := h.cards.ListCards(c.Request.Context(), principal(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, cards)
}

// GetCard GET /api/v1/cards/:id
func (h *Handler) GetCard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	card, err := h.cards.GetCard(c.Request.Context(), principal(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, card)
}

// UpdateCard PUT /api/v1/cards/:id
func (h *Handler) UpdateCard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateCardRequest
	if !bind(c, &req) {
		return
	}
	card, err := h.cards.UpdateCard(c.Request.Context(), principal(c), id, &service.UpdateCardRequest{
		SpendingLimit: req.SpendingLimit,
		Status:        req.Status,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, card)
}

// DeleteCard DELETE /api/v1/cards/:id
func (h *Handler) DeleteCard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.cards.DeleteCard(c.Request.Context(), principal(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "status": "deleted"})
}

// IssueCardToken POST /api/v1/cards/:id/token
func (h *Handler) IssueCardToken(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	token, err := h.cards.IssueToken(c.Request.Context(), principal(c), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, token)
}

// RedeemPayment POST /api/v1/merchant/payments
func (h *Handler) RedeemPayment(c *gin.Context) {
	var req RedeemRequest
	if !bind(c, &req) {
		return
	}
	entry, err := h.cards.Redeem(c.Request.Context(), req.Token, req.Amount, req.Merchant)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entry)
}
