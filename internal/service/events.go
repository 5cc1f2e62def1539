package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retailledger/internal/model"
	"retailledger/internal/repository"

	"gorm.io/gorm"
)

// LedgerEvent is published for every ledger entry, completed or failed.
type LedgerEvent struct {
	EntryNo              string    `json:"entry_no"`
	Kind                 string    `json:"kind"`
	Status               string    `json:"status"`
	SourceAccountID      *int64    `json:"source_account_id,omitempty"`
	DestinationAccountID *int64    `json:"destination_account_id,omitempty"`
	Amount               string    `json:"amount"`
	Memo                 string    `json:"memo"`
	FailureReason        string    `json:"failure_reason,omitempty"`
	StandingOrderID      *int64    `json:"standing_order_id,omitempty"`
	CardID               *int64    `json:"card_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

func newLedgerEvent(e *model.LedgerEntry) LedgerEvent {
	return LedgerEvent{
		EntryNo:              e.EntryNo,
		Kind:                 e.Kind,
		Status:               e.Status,
		SourceAccountID:      e.SourceAccountID,
		DestinationAccountID: e.DestinationAccountID,
		Amount:               e.Amount.String(),
		Memo:                 e.Memo,
		FailureReason:        e.FailureReason,
		StandingOrderID:      e.StandingOrderID,
		CardID:               e.CardID,
		CreatedAt:            e.CreatedAt,
	}
}

// enqueue writes an outbox row inside tx so the event commits with the change.
func enqueue(ctx context.Context, tx *gorm.DB, repo *repository.OutboxRepository, topic, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return repo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	})
}
