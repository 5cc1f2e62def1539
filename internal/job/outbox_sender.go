package job

import (
	"context"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/infrastructure/mq"
	"retailledger/internal/model"
	"retailledger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender relays pending outbox rows to the broker in id order.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	log        *logrus.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetries int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg config.OutboxConfig, log *logrus.Logger) *OutboxSender {
	s := &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		log:        log,
		stopCh:     make(chan struct{}),
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
	}
	if s.interval <= 0 {
		s.interval = 500 * time.Millisecond
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 5
	}
	return s
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.WithField("interval", s.interval).Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender: context cancelled, exiting")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending sends one batch and returns how many messages were delivered.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("outbox sender: query pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := logrus.Fields{"id": msg.ID, "topic": msg.Topic, "key": msg.MessageKey}

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			s.log.WithFields(fields).WithError(err).Error("outbox sender: mark sent")
			return false
		}
		s.log.WithFields(fields).Debug("outbox message sent")
		return true
	}

	s.log.WithFields(fields).WithError(err).Warn("outbox sender: publish failed")
	if err := s.outboxRepo.RecordFailure(ctx, msg, err.Error(), s.maxRetries); err != nil {
		s.log.WithFields(fields).WithError(err).Error("outbox sender: record failure")
	}
	if msg.RetryCount+1 >= s.maxRetries {
		s.log.WithFields(fields).Error("outbox message exceeded max retries, marked failed")
	}
	return false
}
