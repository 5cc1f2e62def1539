package repository

import (
	"context"
	"errors"

	"retailledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	return r.first(tx.WithContext(ctx).Where("id = ?", id))
}

// GetByIDForUpdate reads the account under an exclusive row lock held until
// tx ends.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	return r.first(tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *AccountRepository) GetByNumber(ctx context.Context, tx *gorm.DB, number string) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	return r.first(tx.WithContext(ctx).Where("account_number = ?", number))
}

func (r *AccountRepository) first(q *gorm.DB) (*model.Account, error) {
	var account model.Account
	if err := q.First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Account{}).Where("account_number = ?", number).Count(&count).Error
	return count > 0, err
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) ListAll(ctx context.Context) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&accounts).Error
	return accounts, err
}

// UpdateBalance writes an already computed balance. The version predicate
// rejects the write if anything touched the row since it was read.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, id int64, balance decimal.Decimal, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, from, to string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":  to,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Account{}).Count(&count).Error
	return count, err
}

func (r *AccountRepository) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&model.Account{}).Select("SUM(balance)").Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
