package repository

import (
	"context"
	"errors"
	"time"

	"retailledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StandingOrderRepository struct {
	db *gorm.DB
}

func NewStandingOrderRepository(db *gorm.DB) *StandingOrderRepository {
	return &StandingOrderRepository{db: db}
}

func (r *StandingOrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.StandingOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *StandingOrderRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.StandingOrder, error) {
	if tx == nil {
		tx = r.db
	}
	return r.first(tx.WithContext(ctx).Where("id = ?", id))
}

func (r *StandingOrderRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.StandingOrder, error) {
	return r.first(tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *StandingOrderRepository) first(q *gorm.DB) (*model.StandingOrder, error) {
	var order model.StandingOrder
	if err := q.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStandingOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *StandingOrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.StandingOrder, error) {
	var orders []*model.StandingOrder
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&orders).Error
	return orders, err
}

func (r *StandingOrderRepository) ListAll(ctx context.Context) ([]*model.StandingOrder, error) {
	var orders []*model.StandingOrder
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&orders).Error
	return orders, err
}

// ListDue returns active orders whose next execution date is on or before asOf.
func (r *StandingOrderRepository) ListDue(ctx context.Context, asOf time.Time) ([]*model.StandingOrder, error) {
	var orders []*model.StandingOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_execution_date <= ?", model.StandingOrderStatusActive, model.DateOf(asOf)).
		Order("next_execution_date ASC, id ASC").
		Find(&orders).Error
	return orders, err
}

// Update writes owner-editable fields on a non-terminal order.
func (r *StandingOrderRepository) Update(ctx context.Context, tx *gorm.DB, id int64, fields map[string]interface{}) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.StandingOrder{}).
		Where("id = ? AND status IN ?", id, []string{model.StandingOrderStatusActive, model.StandingOrderStatusPaused}).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *StandingOrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, from, to string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.StandingOrder{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ScheduleAdvance is the outcome of one processed cycle.
type ScheduleAdvance struct {
	Next      time.Time
	Status    string
	RunStatus string
	Reason    string
	AsOf      time.Time
	RunAt     time.Time
}

// AdvanceSchedule moves an active order past its current execution date. It
// matches no row, and returns ErrStatusConflict, if another run already
// advanced it.
func (r *StandingOrderRepository) AdvanceSchedule(ctx context.Context, tx *gorm.DB, order *model.StandingOrder, adv ScheduleAdvance) error {
	result := tx.WithContext(ctx).
		Model(&model.StandingOrder{}).
		Where("id = ? AND status = ? AND next_execution_date = ?", order.ID, model.StandingOrderStatusActive, model.DateOf(order.NextExecutionDate)).
		Updates(map[string]interface{}{
			"next_execution_date": model.DateOf(adv.Next),
			"status":              adv.Status,
			"last_run_date":       model.DateOf(adv.AsOf),
			"last_run_at":         adv.RunAt,
			"last_run_status":     adv.RunStatus,
			"last_failure_reason": adv.Reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// RecordFailedRun notes a failed cycle without touching the schedule.
func (r *StandingOrderRepository) RecordFailedRun(ctx context.Context, tx *gorm.DB, id int64, reason string, runAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.StandingOrder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at":         runAt,
			"last_run_status":     model.RunStatusFailed,
			"last_failure_reason": reason,
		}).Error
}

func (r *StandingOrderRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.StandingOrder{}).
		Where("status = ?", model.StandingOrderStatusActive).
		Count(&count).Error
	return count, err
}
