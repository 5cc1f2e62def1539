package handler

import (
	"net/http"
	"strings"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/service"
	"retailledger/pkg/response"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	ctxPrincipal = "principal"
	ctxRole      = "role"
)

// PrincipalClaims is the bearer token presented by API clients. Subject is
// the owner id used for every ownership check.
type PrincipalClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}
		entry := log.WithFields(logrus.Fields{
			"status":    c.Writer.Status(),
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
			"method":    c.Request.Method,
			"path":      path,
		})
		if principal := c.GetString(ctxPrincipal); principal != "" {
			entry = entry.WithField("principal", principal)
		}
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Error("request failed")
			return
		}
		entry.Info("request")
	}
}

func RecoveryMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"panic":  err,
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
				}).Error("panic recovered")
				response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware verifies an HS256 bearer token and stores its subject as the
// request principal.
func AuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing bearer token")
			return
		}

		claims := &PrincipalClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || claims.Subject == "" || isPaymentToken(claims) {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid bearer token")
			return
		}

		c.Set(ctxPrincipal, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

func isPaymentToken(claims *PrincipalClaims) bool {
	for _, aud := range claims.Audience {
		if aud == service.PaymentTokenAudience {
			return true
		}
	}
	return false
}

// AdminMiddleware must run after AuthMiddleware.
func AdminMiddleware(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != role {
			response.Abort(c, http.StatusForbidden, response.CodeForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware limits requests per client IP. A non-positive RPS
// disables it.
func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RPS <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	lmt := tollbooth.NewLimiter(cfg.RPS, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Hour,
	})
	if cfg.Burst > 0 {
		lmt.SetBurst(cfg.Burst)
	}
	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpError != nil {
			response.Abort(c, httpError.StatusCode, response.CodeTooManyReqs, "too many requests")
			return
		}
		c.Next()
	}
}
