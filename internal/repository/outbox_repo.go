package repository

import (
	"context"

	"retailledger/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.OutboxStatusSent,
			"last_error": "",
		}).Error
}

// RecordFailure counts a failed delivery and parks the message as failed once
// it has been tried maxRetries times.
func (r *OutboxRepository) RecordFailure(ctx context.Context, msg *model.OutboxMessage, cause string, maxRetries int) error {
	if len(cause) > 255 {
		cause = cause[:255]
	}
	fields := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  cause,
	}
	if msg.RetryCount+1 >= maxRetries {
		fields["status"] = model.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", msg.ID).
		Updates(fields).Error
}

func (r *OutboxRepository) ListByTopic(ctx context.Context, topic string) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).Where("topic = ?", topic).Order("id ASC").Find(&messages).Error
	return messages, err
}
