package repository

import (
	"context"
	"errors"

	"retailledger/internal/model"

	"gorm.io/gorm"
)

// LedgerRepository only appends and reads; entries are never updated.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) GetByID(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// GetByRequestID returns nil, nil when no entry carries requestID.
func (r *LedgerRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, requestID string) (*model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entry model.LedgerEntry
	err := tx.WithContext(ctx).Where("request_id = ?", requestID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListByAccount returns entries where the account is either side, newest first.
func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("source_account_id = ? OR destination_account_id = ?", accountID, accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) ListAll(ctx context.Context, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) ListByStandingOrder(ctx context.Context, standingOrderID int64) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("standing_order_id = ?", standingOrderID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Count(&count).Error
	return count, err
}
