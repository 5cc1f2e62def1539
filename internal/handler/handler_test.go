package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/handler"
	"retailledger/internal/infrastructure/lock"
	"retailledger/internal/service"
	"retailledger/internal/testutil"
	"retailledger/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const jwtSecret = "handler-test-secret"

type server struct {
	t      *testing.T
	db     *gorm.DB
	router http.Handler
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newServer(t *testing.T, rate config.RateLimitConfig) *server {
	t.Helper()
	db := testutil.NewDB(t)
	log := testutil.Logger()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			LedgerEvents:      "ledger.entries",
			StandingOrderRuns: "ledger.standing_order_runs",
		}},
		Auth: config.AuthConfig{JWTSecret: jwtSecret, AdminRole: "admin"},
		Card: config.CardConfig{
			TokenSecret:          "card-secret",
			TokenTTL:             5 * time.Minute,
			DefaultSpendingLimit: "10000",
		},
		Scheduler: config.SchedulerConfig{Workers: 1},
		RateLimit: rate,
	}

	transfers := service.NewTransferService(db, lock.NoopLocker{}, cfg, log)
	cards, err := service.NewCardService(db, transfers, cfg, log)
	require.NoError(t, err)
	h := handler.NewHandler(
		service.NewAccountService(db, log),
		transfers,
		service.NewStandingOrderService(db, transfers, cfg, log),
		cards,
		log,
	)
	return &server{t: t, db: db, router: handler.SetupRouter(h, cfg, log)}
}

func bearer(t *testing.T, subject, role string) string {
	t.Helper()
	claims := handler.PrincipalClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (s *server) do(method, path, auth string, payload interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealth(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})
	w, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})
	w, _ := s.do(http.MethodOptions, "/api/v1/transfers", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthRequired(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})

	w, env := s.do(http.MethodGet, "/api/v1/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/accounts", "Bearer not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsPaymentTokens(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})

	// Signed with the API secret, as if both secrets were configured alike.
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		Audience:  jwt.ClaimStrings{service.PaymentTokenAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	w, env := s.do(http.MethodGet, "/api/v1/accounts", "Bearer "+signed, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)
}

func TestTransferEndpoint(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})
	alice := bearer(t, "alice", "")
	src := testutil.CreateAccount(t, s.db, "alice", 100)
	dst := testutil.CreateAccount(t, s.db, "bob", 0)

	_, env := s.do(http.MethodPost, "/api/v1/transfers", alice, body{
		"source_account_id":          src.ID,
		"destination_account_number": dst.AccountNumber,
		"amount":                     "40.50",
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	assert.True(t, testutil.Balance(t, s.db, src.ID).Equal(decimal.RequireFromString("59.50")))
	assert.True(t, testutil.Balance(t, s.db, dst.ID).Equal(decimal.RequireFromString("40.50")))

	_, env = s.do(http.MethodPost, "/api/v1/transfers", alice, body{
		"source_account_id":      src.ID,
		"destination_account_id": dst.ID,
		"amount":                 "1000",
	})
	assert.Equal(t, response.CodeInsufficientFunds, env.Code)

	// someone else's account looks like a missing one
	_, env = s.do(http.MethodPost, "/api/v1/transfers", bearer(t, "mallory", ""), body{
		"source_account_id":      src.ID,
		"destination_account_id": dst.ID,
		"amount":                 "1",
	})
	assert.Equal(t, response.CodeAccountNotFound, env.Code)
}

func TestTransferEndpoint_Validation(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})
	alice := bearer(t, "alice", "")

	_, env := s.do(http.MethodPost, "/api/v1/transfers", alice, body{"source_account_id": 1, "destination_account_id": 2, "amount": "0"})
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = s.do(http.MethodPost, "/api/v1/transfers", alice, body{"source_account_id": 1, "amount": "5"})
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = s.do(http.MethodPost, "/api/v1/transfers", alice, body{"source_account_id": 1, "destination_account_id": 2, "amount": "0.001"})
	assert.Equal(t, response.CodeParamError, env.Code)
	assert.Equal(t, int64(0), testutil.CountEntries(t, s.db))
}

func TestDepositAndEntries(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})
	alice := bearer(t, "alice", "")
	acc := testutil.CreateAccount(t, s.db, "alice", 0)

	_, env := s.do(http.MethodPost, "/api/v1/deposits", alice, body{"account_id": acc.ID, "amount": "25", "request_id": "dep-1"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	_, env = s.do(http.MethodPost, "/api/v1/deposits", alice, body{"account_id": acc.ID, "amount": "25", "request_id": "dep-1"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	assert.True(t, testutil.Balance(t, s.db, acc.ID).Equal(decimal.NewFromInt(25)))

	bobAcc := testutil.CreateAccount(t, s.db, "bob", 0)
	_, env = s.do(http.MethodPost, "/api/v1/deposits", bearer(t, "bob", ""), body{"account_id": bobAcc.ID, "amount": "10", "request_id": "dep-1"})
	assert.Equal(t, response.CodeRequestConflict, env.Code)
	assert.Empty(t, env.Data)
	assert.True(t, testutil.Balance(t, s.db, bobAcc.ID).IsZero())

	_, env = s.do(http.MethodGet, "/api/v1/accounts/"+itoa(acc.ID)+"/entries", alice, nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	assert.Len(t, rows, 1)
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})

	w, env := s.do(http.MethodGet, "/api/v1/admin/stats", bearer(t, "alice", ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.CodeForbidden, env.Code)

	admin := bearer(t, "ops", "admin")
	_, env = s.do(http.MethodPost, "/api/v1/admin/accounts", admin, body{"owner_id": "carol", "account_type": "savings"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var acc struct {
		ID            int64  `json:"id"`
		AccountNumber string `json:"account_number"`
		Status        string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &acc))
	assert.Len(t, acc.AccountNumber, 10)

	_, env = s.do(http.MethodPost, "/api/v1/admin/accounts/"+itoa(acc.ID)+"/close", admin, nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	_, env = s.do(http.MethodPost, "/api/v1/admin/accounts/"+itoa(acc.ID)+"/unfreeze", admin, nil)
	assert.Equal(t, response.CodeInvalidStatusTransition, env.Code)

	_, env = s.do(http.MethodGet, "/api/v1/admin/stats", admin, nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	assert.Contains(t, string(env.Data), `"accounts":1`)
}

func TestStandingOrderRoutes(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})
	alice := bearer(t, "alice", "")
	src := testutil.CreateAccount(t, s.db, "alice", 100)
	dst := testutil.CreateAccount(t, s.db, "bob", 0)

	_, env := s.do(http.MethodPost, "/api/v1/standing-orders", alice, body{
		"source_account_id":      src.ID,
		"destination_account_id": dst.ID,
		"amount":                 "10",
		"frequency":              "monthly",
		"start_date":             "2024-01-15",
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var order struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))

	_, env = s.do(http.MethodPost, "/api/v1/standing-orders", alice, body{
		"source_account_id":      src.ID,
		"destination_account_id": dst.ID,
		"amount":                 "10",
		"frequency":              "yearly",
		"start_date":             "2024-01-15",
	})
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = s.do(http.MethodPost, "/api/v1/admin/standing-orders/run", bearer(t, "ops", "admin"), body{"as_of": "2024-01-17"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var result service.RunResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, []int64{order.ID}, result.ExecutedIDs)
	assert.True(t, testutil.Balance(t, s.db, dst.ID).Equal(decimal.NewFromInt(10)))

	_, env = s.do(http.MethodPost, "/api/v1/standing-orders/"+itoa(order.ID)+"/pause", alice, nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	assert.Contains(t, string(env.Data), `"status":"paused"`)

	_, env = s.do(http.MethodDelete, "/api/v1/standing-orders/"+itoa(order.ID), bearer(t, "bob", ""), nil)
	assert.Equal(t, response.CodeStandingOrderNotFound, env.Code)
}

func TestCardPaymentFlow(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{})
	alice := bearer(t, "alice", "")
	acc := testutil.CreateAccount(t, s.db, "alice", 100)

	_, env := s.do(http.MethodPost, "/api/v1/cards", alice, body{"account_id": acc.ID, "card_holder_name": "alice liddell", "spending_limit": "50"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var created struct {
		Card struct {
			ID int64 `json:"id"`
		} `json:"card"`
		CVV string `json:"cvv"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Len(t, created.CVV, 3)

	_, env = s.do(http.MethodPost, "/api/v1/cards/"+itoa(created.Card.ID)+"/token", alice, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var token struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &token))

	_, env = s.do(http.MethodPost, "/api/v1/merchant/payments", "", body{"token": token.Token, "amount": "60", "merchant": "Books"})
	assert.Equal(t, response.CodeSpendingLimitExceeded, env.Code)

	_, env = s.do(http.MethodPost, "/api/v1/merchant/payments", "", body{"token": token.Token, "amount": "20", "merchant": "Books"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	assert.Contains(t, string(env.Data), "Card Payment - Books")

	_, env = s.do(http.MethodPost, "/api/v1/merchant/payments", "", body{"token": token.Token, "amount": "20", "merchant": "Books"})
	assert.Equal(t, response.CodeTokenAlreadyUsed, env.Code)
	assert.True(t, testutil.Balance(t, s.db, acc.ID).Equal(decimal.NewFromInt(80)))
}

func TestMerchantEndpointIsRateLimited(t *testing.T) {
	s := newServer(t, config.RateLimitConfig{RPS: 1, Burst: 1})

	w, _ := s.do(http.MethodPost, "/api/v1/merchant/payments", "", body{"token": "x", "amount": "1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(http.MethodPost, "/api/v1/merchant/payments", "", body{"token": "x", "amount": "1"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeTooManyReqs, env.Code)
}

type body map[string]interface{}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
