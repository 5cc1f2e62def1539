package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/model"
	"retailledger/internal/repository"
	"retailledger/pkg/idgen"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const cardValidity = 3 // years

// PaymentTokenAudience marks card payment tokens so they are never accepted
// where an API bearer token is expected.
const PaymentTokenAudience = "card-payment"

type CreateCardRequest struct {
	Principal     string
	AccountID     int64
	HolderName    string
	SpendingLimit *decimal.Decimal
}

type UpdateCardRequest struct {
	SpendingLimit *decimal.Decimal
	Status        *string
}

type paymentClaims struct {
	CardID     int64  `json:"card_id"`
	AccountID  int64  `json:"account_id"`
	CardNumber string `json:"card_number"`
	jwt.RegisteredClaims
}

// CardService manages virtual cards and authorizes payments made with their
// short-lived tokens.
type CardService struct {
	db           *gorm.DB
	transfers    *TransferService
	cardRepo     *repository.CardRepository
	accountRepo  *repository.AccountRepository
	tokenRepo    *repository.TokenRepository
	secret       []byte
	ttl          time.Duration
	defaultLimit decimal.Decimal
	now          func() time.Time
	log          *logrus.Logger
}

func NewCardService(db *gorm.DB, transfers *TransferService, cfg *config.Config, log *logrus.Logger) (*CardService, error) {
	limit, err := decimal.NewFromString(cfg.Card.DefaultSpendingLimit)
	if err != nil || !model.IsValidAmount(limit) {
		return nil, fmt.Errorf("card.default_spending_limit %q: %w", cfg.Card.DefaultSpendingLimit, ErrInvalidSpendingLimit)
	}
	if cfg.Card.TokenSecret == "" {
		return nil, errors.New("card.token_secret is empty")
	}
	return &CardService{
		db:           db,
		transfers:    transfers,
		cardRepo:     repository.NewCardRepository(db),
		accountRepo:  repository.NewAccountRepository(db),
		tokenRepo:    repository.NewTokenRepository(db),
		secret:       []byte(cfg.Card.TokenSecret),
		ttl:          cfg.Card.TokenTTL,
		defaultLimit: limit,
		now:          time.Now,
		log:          log,
	}, nil
}

// SetClock replaces the wall clock used for token issue and expiry.
func (s *CardService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *CardService) CreateCard(ctx context.Context, req *CreateCardRequest) (*model.VirtualCard, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, req.AccountID)
	if errors.Is(err, repository.ErrAccountNotFound) || (err == nil && account.OwnerID != req.Principal) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	holder := strings.ToUpper(strings.TrimSpace(req.HolderName))
	if holder == "" {
		return nil, ErrCardHolderRequired
	}
	limit := s.defaultLimit
	if req.SpendingLimit != nil {
		limit = *req.SpendingLimit
	}
	if !model.IsValidAmount(limit) {
		return nil, ErrInvalidSpendingLimit
	}

	number, err := s.uniqueCardNumber(ctx)
	if err != nil {
		return nil, err
	}
	cvv, err := idgen.GenerateCVV()
	if err != nil {
		return nil, err
	}

	card := &model.VirtualCard{
		OwnerID:        req.Principal,
		AccountID:      account.ID,
		CardNumber:     number,
		CVV:            cvv,
		CardHolderName: holder,
		ExpiryDate:     model.DateOf(s.now().AddDate(cardValidity, 0, 0)),
		SpendingLimit:  limit,
		CurrentSpent:   decimal.Zero,
		Status:         model.CardStatusActive,
	}
	if err := s.cardRepo.Create(ctx, nil, card); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	s.log.WithFields(logrus.Fields{"card_id": card.ID, "account_id": account.ID}).Info("virtual card created")
	return card, nil
}

func (s *CardService) uniqueCardNumber(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		number, err := idgen.GenerateCardNumber()
		if err != nil {
			return "", err
		}
		exists, err := s.cardRepo.NumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", errors.New("could not allocate a unique card number")
}

func (s *CardService) GetCard(ctx context.Context, principal string, id int64) (*model.VirtualCard, error) {
	card, err := s.cardRepo.GetByID(ctx, nil, id)
	if errors.Is(err, repository.ErrCardNotFound) || (err == nil && (card.OwnerID != principal || card.Status == model.CardStatusDeleted)) {
		return nil, ErrCardNotFound
	}
	return card, err
}

func (s *CardService) ListCards(ctx context.Context, principal string) ([]*model.VirtualCard, error) {
	return s.cardRepo.ListByOwner(ctx, principal)
}

// UpdateCard changes the limit or toggles active/frozen. The limit may not be
// set below what was already spent this period.
func (s *CardService) UpdateCard(ctx context.Context, principal string, id int64, req *UpdateCardRequest) (*model.VirtualCard, error) {
	if _, err := s.GetCard(ctx, principal, id); err != nil {
		return nil, err
	}
	if req.Status != nil && *req.Status != model.CardStatusActive && *req.Status != model.CardStatusFrozen {
		return nil, ErrInvalidStatusTransition
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.cardRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		fields := map[string]interface{}{}
		if req.SpendingLimit != nil {
			if !model.IsValidAmount(*req.SpendingLimit) || req.SpendingLimit.LessThan(card.CurrentSpent) {
				return ErrInvalidSpendingLimit
			}
			fields["spending_limit"] = *req.SpendingLimit
		}
		if req.Status != nil {
			fields["status"] = *req.Status
		}
		if len(fields) == 0 {
			return nil
		}
		return s.cardRepo.Update(ctx, tx, id, fields)
	})
	if errors.Is(err, repository.ErrCardNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.cardRepo.GetByID(ctx, nil, id)
}

// DeleteCard marks the card deleted; the row is kept.
func (s *CardService) DeleteCard(ctx context.Context, principal string, id int64) error {
	if _, err := s.GetCard(ctx, principal, id); err != nil {
		return err
	}
	err := s.cardRepo.Update(ctx, nil, id, map[string]interface{}{"status": model.CardStatusDeleted})
	if errors.Is(err, repository.ErrCardNotFound) {
		return ErrCardNotFound
	}
	return err
}

// ResetSpent opens a new spending period on every card.
func (s *CardService) ResetSpent(ctx context.Context) (int64, error) {
	n, err := s.cardRepo.ResetSpent(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset card spend: %w", err)
	}
	s.log.WithField("cards", n).Info("card spending period reset")
	return n, nil
}

// IssueToken mints a payment token for an active card owned by principal.
func (s *CardService) IssueToken(ctx context.Context, principal string, cardID int64) (*model.PaymentToken, error) {
	card, err := s.GetCard(ctx, principal, cardID)
	if err != nil {
		return nil, err
	}
	if !card.IsActive() {
		return nil, ErrCardInactive
	}

	now := s.now().UTC()
	issuedAt := now.Truncate(time.Second)
	expiresAt := ceilSecond(now.Add(s.ttl))
	tokenID := uuid.NewString()
	claims := paymentClaims{
		CardID:     card.ID,
		AccountID:  card.AccountID,
		CardNumber: card.CardNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   principal,
			Audience:  jwt.ClaimStrings{PaymentTokenAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign payment token: %w", err)
	}

	return &model.PaymentToken{
		Token:      signed,
		TokenID:    tokenID,
		CardID:     card.ID,
		AccountID:  card.AccountID,
		CardNumber: card.CardNumber,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
	}, nil
}

// ceilSecond rounds t up to the whole second a JWT NumericDate can carry, so
// a token never lives shorter than the configured TTL.
func ceilSecond(t time.Time) time.Time {
	if floor := t.Truncate(time.Second); floor.Before(t) {
		return floor.Add(time.Second)
	}
	return t
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// parseToken verifies the signature and checks expiry against the server
// clock. Nothing the client sends is trusted for time.
func (s *CardService) parseToken(token string) (*paymentClaims, error) {
	claims := &paymentClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.ExpiresAt == nil || claims.ID == "" || claims.CardID == 0 || !hasAudience(claims.Audience, PaymentTokenAudience) {
		return nil, ErrTokenInvalid
	}
	if s.now().After(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// Redeem authorizes a point-of-sale debit. The token redemption, the spend
// increment and the balance debit commit together.
func (s *CardService) Redeem(ctx context.Context, token string, amount decimal.Decimal, merchant string) (*model.LedgerEntry, error) {
	if !model.IsValidAmount(amount) {
		return nil, ErrInvalidAmount
	}
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}

	card, err := s.cardRepo.GetByID(ctx, nil, claims.CardID)
	if errors.Is(err, repository.ErrCardNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	if card.AccountID != claims.AccountID || card.CardNumber != claims.CardNumber {
		return nil, ErrTokenInvalid
	}

	merchant = strings.TrimSpace(merchant)
	if merchant == "" {
		merchant = "Merchant"
	}

	var entry *model.LedgerEntry
	err = s.transfers.RunLocked(ctx, []int64{card.AccountID}, func(tx *gorm.DB) error {
		locked, err := s.cardRepo.GetByIDForUpdate(ctx, tx, card.ID)
		if err != nil {
			return err
		}
		if !locked.IsActive() {
			return ErrCardInactive
		}
		used, err := s.tokenRepo.IsRedeemed(ctx, tx, claims.ID)
		if err != nil {
			return err
		}
		if used {
			return ErrTokenAlreadyUsed
		}
		if !locked.CanSpend(amount) {
			return ErrSpendingLimitExceeded
		}

		cardID := locked.ID
		entry, err = s.transfers.ExecuteTx(ctx, tx, &TransferRequest{
			SourceAccountID: locked.AccountID,
			Amount:          amount,
			Kind:            model.EntryKindCardPayment,
			Memo:            "Card Payment - " + merchant,
			CardID:          &cardID,
		})
		if err != nil {
			return err
		}
		if err := s.cardRepo.SetSpent(ctx, tx, locked.ID, locked.CurrentSpent.Add(amount)); err != nil {
			return err
		}
		return s.tokenRepo.Create(ctx, tx, &model.CardTokenRedemption{
			TokenID:       claims.ID,
			CardID:        locked.ID,
			LedgerEntryID: entry.ID,
			Amount:        amount,
			Merchant:      merchant,
		})
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"card_id": claims.CardID,
			"amount":  amount.String(),
		}).WithError(err).Info("card payment declined")
		return nil, err
	}
	return entry, nil
}
