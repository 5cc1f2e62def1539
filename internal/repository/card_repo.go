package repository

import (
	"context"
	"errors"

	"retailledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CardRepository struct {
	db *gorm.DB
}

func NewCardRepository(db *gorm.DB) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) Create(ctx context.Context, tx *gorm.DB, card *model.VirtualCard) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(card).Error
}

func (r *CardRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.VirtualCard, error) {
	if tx == nil {
		tx = r.db
	}
	return r.first(tx.WithContext(ctx).Where("id = ?", id))
}

func (r *CardRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.VirtualCard, error) {
	return r.first(tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *CardRepository) first(q *gorm.DB) (*model.VirtualCard, error) {
	var card model.VirtualCard
	if err := q.First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (r *CardRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.VirtualCard{}).Where("card_number = ?", number).Count(&count).Error
	return count > 0, err
}

// ListByOwner skips deleted cards.
func (r *CardRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.VirtualCard, error) {
	var cards []*model.VirtualCard
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status <> ?", ownerID, model.CardStatusDeleted).
		Order("created_at DESC, id DESC").
		Find(&cards).Error
	return cards, err
}

func (r *CardRepository) Update(ctx context.Context, tx *gorm.DB, id int64, fields map[string]interface{}) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.VirtualCard{}).
		Where("id = ? AND status <> ?", id, model.CardStatusDeleted).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}

// SetSpent writes the new cumulative spend. Only called with the card row
// locked.
func (r *CardRepository) SetSpent(ctx context.Context, tx *gorm.DB, id int64, spent decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&model.VirtualCard{}).
		Where("id = ?", id).
		Update("current_spent", spent).Error
}

// ResetSpent starts a new spending period for every card that is not deleted.
func (r *CardRepository) ResetSpent(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.VirtualCard{}).
		Where("status <> ?", model.CardStatusDeleted).
		Update("current_spent", decimal.Zero)
	return result.RowsAffected, result.Error
}

func (r *CardRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.VirtualCard{}).
		Where("status = ?", model.CardStatusActive).
		Count(&count).Error
	return count, err
}
