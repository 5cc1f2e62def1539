package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/infrastructure/mq"
	"retailledger/internal/model"
	"retailledger/internal/repository"
	"retailledger/internal/service"
	"retailledger/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedOutbox(t *testing.T, db *gorm.DB, keys ...string) {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	for _, k := range keys {
		require.NoError(t, repo.Create(context.Background(), nil, &model.OutboxMessage{
			MessageKey: k,
			Topic:      "ledger.entries",
			Payload:    `{"entry_no":"` + k + `"}`,
		}))
	}
}

func outboxRows(t *testing.T, db *gorm.DB) []model.OutboxMessage {
	t.Helper()
	var rows []model.OutboxMessage
	require.NoError(t, db.Order("id ASC").Find(&rows).Error)
	return rows
}

func TestOutboxSender_DeliversInOrder(t *testing.T) {
	db := testutil.NewDB(t)
	seedOutbox(t, db, "LE1", "LE2")

	producer := mocks.NewSyncProducer(t, nil)
	var keys []string
	checker := func(msg *sarama.ProducerMessage) error {
		k, _ := msg.Key.Encode()
		keys = append(keys, string(k))
		return nil
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	publisher := mq.NewKafkaPublisher(producer)
	t.Cleanup(func() { _ = publisher.Close() })

	sender := NewOutboxSender(db, publisher, config.OutboxConfig{BatchSize: 10, MaxRetries: 3}, testutil.Logger())
	assert.Equal(t, 2, sender.ProcessPending(context.Background()))
	assert.Equal(t, []string{"LE1", "LE2"}, keys)

	for _, row := range outboxRows(t, db) {
		assert.Equal(t, model.OutboxStatusSent, row.Status)
	}
	// nothing left to send
	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
}

func TestOutboxSender_RetriesThenParks(t *testing.T) {
	db := testutil.NewDB(t)
	seedOutbox(t, db, "LE1")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	publisher := mq.NewKafkaPublisher(producer)
	t.Cleanup(func() { _ = publisher.Close() })

	sender := NewOutboxSender(db, publisher, config.OutboxConfig{BatchSize: 10, MaxRetries: 2}, testutil.Logger())

	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
	rows := outboxRows(t, db)
	assert.Equal(t, model.OutboxStatusPending, rows[0].Status)
	assert.Equal(t, 1, rows[0].RetryCount)
	assert.NotEmpty(t, rows[0].LastError)

	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
	rows = outboxRows(t, db)
	assert.Equal(t, model.OutboxStatusFailed, rows[0].Status)
	assert.Equal(t, 2, rows[0].RetryCount)

	// parked messages are not picked up again
	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
}

func TestOutboxSender_StopsOnCancel(t *testing.T) {
	db := testutil.NewDB(t)
	sender := NewOutboxSender(db, mq.NewLogPublisher(testutil.Logger()), config.OutboxConfig{Interval: time.Millisecond}, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sender.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

type stubRunner struct {
	asOf []time.Time
	err  error
}

func (s *stubRunner) RunDueOrders(_ context.Context, asOf time.Time) (*service.RunResult, error) {
	s.asOf = append(s.asOf, asOf)
	if s.err != nil {
		return nil, s.err
	}
	return &service.RunResult{AsOf: model.DateOf(asOf), ExecutedIDs: []int64{1}, FailedIDs: []int64{}}, nil
}

func TestStandingOrderJob_UsesSchedulerTimezone(t *testing.T) {
	runner := &stubRunner{}
	tokyo := time.FixedZone("JST", 9*60*60)
	j := NewStandingOrderJob(runner, tokyo, testutil.Logger())
	j.now = func() time.Time { return time.Date(2024, 1, 16, 23, 30, 0, 0, time.UTC) }

	j.Run()

	require.Len(t, runner.asOf, 1)
	assert.Equal(t, testutil.Date(2024, 1, 17), model.DateOf(runner.asOf[0]))
}

func TestStandingOrderJob_SurvivesRunnerError(t *testing.T) {
	runner := &stubRunner{err: errors.New("db down")}
	j := NewStandingOrderJob(runner, nil, testutil.Logger())
	assert.NotPanics(t, j.Run)
	assert.Len(t, runner.asOf, 1)
}

type stubResetter struct{ calls int }

func (s *stubResetter) ResetSpent(context.Context) (int64, error) {
	s.calls++
	return 3, nil
}

func TestCardSpendResetJob(t *testing.T) {
	r := &stubResetter{}
	NewCardSpendResetJob(r, testutil.Logger()).Run()
	assert.Equal(t, 1, r.calls)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(time.UTC, testutil.Logger())

	require.NoError(t, s.Register("standing-orders", "0 0 * * *", func() {}))
	require.NoError(t, s.Register("card-spend-reset", "0 0 1 * *", func() {}))
	err := s.Register("broken", "not a cron", func() {})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 2, s.Entries())

	s.Start()
	<-s.Stop().Done()
}
