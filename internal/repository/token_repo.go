package repository

import (
	"context"

	"retailledger/internal/model"

	"gorm.io/gorm"
)

// TokenRepository tracks redeemed payment token ids.
type TokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) IsRedeemed(ctx context.Context, tx *gorm.DB, tokenID string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.CardTokenRedemption{}).
		Where("token_id = ?", tokenID).
		Count(&count).Error
	return count > 0, err
}

func (r *TokenRepository) Create(ctx context.Context, tx *gorm.DB, redemption *model.CardTokenRedemption) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(redemption).Error
}

func (r *TokenRepository) ListByCard(ctx context.Context, cardID int64) ([]*model.CardTokenRedemption, error) {
	var out []*model.CardTokenRedemption
	err := r.db.WithContext(ctx).Where("card_id = ?", cardID).Order("id ASC").Find(&out).Error
	return out, err
}
