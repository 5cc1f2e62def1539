package response

import (
	"errors"
	"net/http"

	"retailledger/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeTooManyReqs   = 429
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInvalidAmount           = 1001
	CodeInvalidKind             = 1002
	CodeSameAccount             = 1003
	CodeAccountNotFound         = 1004
	CodeAccountInactive         = 1005
	CodeInsufficientFunds       = 1006
	CodeDestinationNotFound     = 1007
	CodeDestinationInactive     = 1008
	CodeInvalidAccountType      = 1009
	CodeOwnerRequired           = 1010
	CodeInvalidSchedule         = 1011
	CodeStandingOrderNotFound   = 1012
	CodeInvalidStatusTransition = 1013
	CodeRecipientNotFound       = 1014
	CodeCardNotFound            = 1015
	CodeCardInactive            = 1016
	CodeInvalidSpendingLimit    = 1017
	CodeCardHolderRequired      = 1018
	CodeTokenInvalid            = 1019
	CodeTokenExpired            = 1020
	CodeTokenAlreadyUsed        = 1021
	CodeSpendingLimitExceeded   = 1022
	CodeRequestConflict         = 1023
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// Abort ends the chain with a real HTTP status. Used by middleware.
func Abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

var errorCodes = []struct {
	err  error
	code int
}{
	{service.ErrInvalidAmount, CodeInvalidAmount},
	{service.ErrInvalidKind, CodeInvalidKind},
	{service.ErrSameAccount, CodeSameAccount},
	{service.ErrAccountNotFound, CodeAccountNotFound},
	{service.ErrAccountInactive, CodeAccountInactive},
	{service.ErrInsufficientFunds, CodeInsufficientFunds},
	{service.ErrDestinationNotFound, CodeDestinationNotFound},
	{service.ErrDestinationInactive, CodeDestinationInactive},
	{service.ErrInvalidAccountType, CodeInvalidAccountType},
	{service.ErrOwnerRequired, CodeOwnerRequired},
	{service.ErrInvalidSchedule, CodeInvalidSchedule},
	{service.ErrStandingOrderNotFound, CodeStandingOrderNotFound},
	{service.ErrInvalidStatusTransition, CodeInvalidStatusTransition},
	{service.ErrRecipientNotFound, CodeRecipientNotFound},
	{service.ErrCardNotFound, CodeCardNotFound},
	{service.ErrCardInactive, CodeCardInactive},
	{service.ErrInvalidSpendingLimit, CodeInvalidSpendingLimit},
	{service.ErrCardHolderRequired, CodeCardHolderRequired},
	{service.ErrTokenInvalid, CodeTokenInvalid},
	{service.ErrTokenExpired, CodeTokenExpired},
	{service.ErrTokenAlreadyUsed, CodeTokenAlreadyUsed},
	{service.ErrSpendingLimitExceeded, CodeSpendingLimitExceeded},
	{service.ErrRequestConflict, CodeRequestConflict},
	{service.ErrForbidden, CodeForbidden},
}

// CodeOf returns the business code for err, or CodeServerError if err is not
// one of the service error kinds.
func CodeOf(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeServerError
}

// FromError writes err in the envelope. Unknown errors are reported without
// their text.
func FromError(c *gin.Context, err error) {
	code := CodeOf(err)
	if code == CodeServerError {
		_ = c.Error(err)
		ServerError(c, "internal server error")
		return
	}
	Error(c, code, err.Error())
}
