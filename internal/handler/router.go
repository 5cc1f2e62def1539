package handler

import (
	"net/http"

	"retailledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func SetupRouter(h *Handler, cfg *config.Config, log *logrus.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")

	// the token is the capability, no principal
	api.POST("/merchant/payments", RateLimitMiddleware(cfg.RateLimit), h.RedeemPayment)

	authed := api.Group("", AuthMiddleware(cfg.Auth.JWTSecret))
	{
		accounts := authed.Group("/accounts")
		{
			accounts.GET("", h.ListAccounts)
			accounts.GET("/:id", h.GetAccount)
			accounts.GET("/:id/entries", h.ListEntries)
		}
		authed.GET("/lookup/:number", h.LookupAccount)

		authed.POST("/transfers", h.Transfer)
		authed.POST("/deposits", h.Deposit)
		authed.POST("/withdrawals", h.Withdraw)

		orders := authed.Group("/standing-orders")
		{
			orders.POST("", h.CreateStandingOrder)
			orders.GET("", h.ListStandingOrders)
			orders.GET("/:id", h.GetStandingOrder)
			orders.PUT("/:id", h.UpdateStandingOrder)
			orders.POST("/:id/pause", h.PauseStandingOrder)
			orders.POST("/:id/resume", h.ResumeStandingOrder)
			orders.DELETE("/:id", h.CancelStandingOrder)
		}

		cards := authed.Group("/cards")
		{
			cards.POST("", h.CreateCard)
			cards.GET("", h.ListCards)
			cards.GET("/:id", h.GetCard)
			cards.PUT("/:id", h.UpdateCard)
			cards.DELETE("/:id", h.DeleteCard)
			cards.POST("/:id/token", h.IssueCardToken)
		}

		admin := authed.Group("/admin", AdminMiddleware(cfg.Auth.AdminRole))
		{
			admin.GET("/stats", h.AdminStats)
			admin.GET("/accounts", h.AdminListAccounts)
			admin.POST("/accounts", h.AdminCreateAccount)
			admin.POST("/accounts/:id/freeze", h.AdminFreezeAccount)
			admin.POST("/accounts/:id/unfreeze", h.AdminUnfreezeAccount)
			admin.POST("/accounts/:id/close", h.AdminCloseAccount)
			admin.GET("/entries", h.AdminListEntries)
			admin.GET("/standing-orders", h.AdminListStandingOrders)
			admin.POST("/standing-orders/run", h.AdminRunStandingOrders)
		}
	}

	return r
}
