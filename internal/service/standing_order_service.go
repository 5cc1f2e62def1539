package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/model"
	"retailledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type CreateStandingOrderRequest struct {
	Principal                string
	SourceAccountID          int64
	DestinationAccountID     int64
	DestinationAccountNumber string
	DestinationName          string
	Amount                   decimal.Decimal
	Frequency                string
	StartDate                time.Time
	EndDate                  *time.Time
	Description              string
}

// UpdateStandingOrderRequest changes only the non-nil fields.
type UpdateStandingOrderRequest struct {
	Amount      *decimal.Decimal
	Frequency   *string
	EndDate     *time.Time
	Description *string
}

// RunResult summarizes one RunDueOrders pass. Orders that another run already
// advanced appear in neither list.
type RunResult struct {
	AsOf        time.Time        `json:"as_of"`
	ExecutedIDs []int64          `json:"executed_ids"`
	FailedIDs   []int64          `json:"failed_ids"`
	Reasons     map[int64]string `json:"reasons"`
}

type StandingOrderService struct {
	db          *gorm.DB
	transfers   *TransferService
	orderRepo   *repository.StandingOrderRepository
	accountRepo *repository.AccountRepository
	outboxRepo  *repository.OutboxRepository
	runTopic    string
	workers     int
	now         func() time.Time
	log         *logrus.Logger
}

func NewStandingOrderService(db *gorm.DB, transfers *TransferService, cfg *config.Config, log *logrus.Logger) *StandingOrderService {
	workers := cfg.Scheduler.Workers
	if workers < 1 {
		workers = 1
	}
	return &StandingOrderService{
		db:          db,
		transfers:   transfers,
		orderRepo:   repository.NewStandingOrderRepository(db),
		accountRepo: repository.NewAccountRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		runTopic:    cfg.Kafka.Topic.StandingOrderRuns,
		workers:     workers,
		now:         time.Now,
		log:         log,
	}
}

// SetClock replaces the wall clock used for run timestamps.
func (s *StandingOrderService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *StandingOrderService) Create(ctx context.Context, req *CreateStandingOrderRequest) (*model.StandingOrder, error) {
	if !model.IsValidAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if err := validateSchedule(req.Frequency, req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	if req.DestinationAccountID == 0 && req.DestinationAccountNumber == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrInvalidSchedule)
	}

	source, err := s.accountRepo.GetByID(ctx, nil, req.SourceAccountID)
	if errors.Is(err, repository.ErrAccountNotFound) || (err == nil && source.OwnerID != req.Principal) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	order := &model.StandingOrder{
		OwnerID:                  req.Principal,
		SourceAccountID:          source.ID,
		DestinationAccountNumber: req.DestinationAccountNumber,
		DestinationName:          req.DestinationName,
		Amount:                   req.Amount,
		Frequency:                req.Frequency,
		Description:              req.Description,
		StartDate:                model.DateOf(req.StartDate),
		NextExecutionDate:        model.DateOf(req.StartDate),
		Status:                   model.StandingOrderStatusActive,
	}
	if req.EndDate != nil {
		end := model.DateOf(*req.EndDate)
		order.EndDate = &end
	}

	if req.DestinationAccountID != 0 {
		dest, err := s.accountRepo.GetByID(ctx, nil, req.DestinationAccountID)
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrDestinationNotFound
		}
		if err != nil {
			return nil, err
		}
		order.DestinationAccountID = &dest.ID
		order.DestinationAccountNumber = dest.AccountNumber
	} else if dest, err := s.accountRepo.GetByNumber(ctx, nil, req.DestinationAccountNumber); err == nil && dest.ID == source.ID {
		return nil, ErrSameAccount
	}
	if order.DestinationAccountID != nil && *order.DestinationAccountID == source.ID {
		return nil, ErrSameAccount
	}

	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("create standing order: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"source":    order.SourceAccountID,
		"frequency": order.Frequency,
		"next":      order.NextExecutionDate.Format("2006-01-02"),
	}).Info("standing order created")
	return order, nil
}

func validateSchedule(frequency string, start time.Time, end *time.Time) error {
	if !model.IsValidFrequency(frequency) {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, frequency)
	}
	if start.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidSchedule)
	}
	if end != nil && model.DateOf(*end).Before(model.DateOf(start)) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidSchedule)
	}
	return nil
}

func (s *StandingOrderService) Get(ctx context.Context, principal string, id int64) (*model.StandingOrder, error) {
	order, err := s.orderRepo.GetByID(ctx, nil, id)
	if errors.Is(err, repository.ErrStandingOrderNotFound) || (err == nil && order.OwnerID != principal) {
		return nil, ErrStandingOrderNotFound
	}
	return order, err
}

func (s *StandingOrderService) List(ctx context.Context, principal string) ([]*model.StandingOrder, error) {
	return s.orderRepo.ListByOwner(ctx, principal)
}

func (s *StandingOrderService) ListAll(ctx context.Context) ([]*model.StandingOrder, error) {
	return s.orderRepo.ListAll(ctx)
}

func (s *StandingOrderService) Update(ctx context.Context, principal string, id int64, req *UpdateStandingOrderRequest) (*model.StandingOrder, error) {
	order, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return nil, ErrInvalidStatusTransition
	}

	fields := map[string]interface{}{}
	if req.Amount != nil {
		if !model.IsValidAmount(*req.Amount) {
			return nil, ErrInvalidAmount
		}
		fields["amount"] = *req.Amount
	}
	frequency := order.Frequency
	if req.Frequency != nil {
		frequency = *req.Frequency
		fields["frequency"] = frequency
	}
	end := order.EndDate
	if req.EndDate != nil {
		d := model.DateOf(*req.EndDate)
		end = &d
		fields["end_date"] = d
	}
	if err := validateSchedule(frequency, order.StartDate, end); err != nil {
		return nil, err
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if len(fields) == 0 {
		return order, nil
	}

	if err := s.orderRepo.Update(ctx, nil, id, fields); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, err
	}
	return s.orderRepo.GetByID(ctx, nil, id)
}

func (s *StandingOrderService) Pause(ctx context.Context, principal string, id int64) (*model.StandingOrder, error) {
	return s.transition(ctx, principal, id, model.StandingOrderStatusPaused)
}

// Resume puts the order back in the due-set with its schedule unchanged, so an
// execution date that passed while paused is due on the next run.
func (s *StandingOrderService) Resume(ctx context.Context, principal string, id int64) (*model.StandingOrder, error) {
	return s.transition(ctx, principal, id, model.StandingOrderStatusActive)
}

func (s *StandingOrderService) Cancel(ctx context.Context, principal string, id int64) (*model.StandingOrder, error) {
	return s.transition(ctx, principal, id, model.StandingOrderStatusCancelled)
}

func (s *StandingOrderService) transition(ctx context.Context, principal string, id int64, to string) (*model.StandingOrder, error) {
	order, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransitionStandingOrder(order.Status, to) {
		return nil, ErrInvalidStatusTransition
	}
	if err := s.orderRepo.UpdateStatus(ctx, nil, id, order.Status, to); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": id, "from": order.Status, "to": to}).Info("standing order status changed")
	return s.orderRepo.GetByID(ctx, nil, id)
}

type orderOutcome int

const (
	outcomeExecuted orderOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// RunDueOrders executes every active order due on or before asOf. Each order
// is its own atomic unit; a failure is recorded against that order and the
// pass continues. The returned error is only set when the due-set itself
// cannot be read.
func (s *StandingOrderService) RunDueOrders(ctx context.Context, asOf time.Time) (*RunResult, error) {
	asOf = model.DateOf(asOf)
	result := &RunResult{
		AsOf:        asOf,
		ExecutedIDs: []int64{},
		FailedIDs:   []int64{},
		Reasons:     map[int64]string{},
	}

	orders, err := s.orderRepo.ListDue(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due standing orders: %w", err)
	}
	if len(orders) == 0 {
		return result, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			outcome, cause := s.processSafely(ctx, order, asOf)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeExecuted:
				result.ExecutedIDs = append(result.ExecutedIDs, order.ID)
			case outcomeFailed:
				result.FailedIDs = append(result.FailedIDs, order.ID)
				result.Reasons[order.ID] = FailureReason(cause)
			}
			return nil
		})
	}
	_ = g.Wait()

	sortIDs(result.ExecutedIDs)
	sortIDs(result.FailedIDs)

	if err := enqueue(ctx, nil, s.outboxRepo, s.runTopic, asOf.Format("2006-01-02"), result); err != nil {
		s.log.WithError(err).Error("[StandingOrders] failed to enqueue run summary")
	}
	s.log.WithFields(logrus.Fields{
		"as_of":    asOf.Format("2006-01-02"),
		"due":      len(orders),
		"executed": len(result.ExecutedIDs),
		"failed":   len(result.FailedIDs),
	}).Info("[StandingOrders] run finished")
	return result, nil
}

func (s *StandingOrderService) processSafely(ctx context.Context, order *model.StandingOrder, asOf time.Time) (outcome orderOutcome, cause error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, cause = outcomeFailed, fmt.Errorf("panic: %v", r)
			s.log.WithField("order_id", order.ID).Errorf("[StandingOrders] panic while processing order: %v", r)
		}
	}()

	outcome, cause = s.processOrder(ctx, order, asOf)
	if outcome == outcomeFailed {
		s.log.WithFields(logrus.Fields{
			"order_id": order.ID,
			"reason":   FailureReason(cause),
		}).WithError(cause).Warn("[StandingOrders] order run failed")
	}
	return outcome, cause
}

var errNotDue = errors.New("order no longer due")

func (s *StandingOrderService) processOrder(ctx context.Context, order *model.StandingOrder, asOf time.Time) (orderOutcome, error) {
	destID, err := s.resolveDestination(ctx, order)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			if recErr := s.orderRepo.RecordFailedRun(ctx, nil, order.ID, FailureReason(err), s.now().UTC()); recErr != nil {
				s.log.WithField("order_id", order.ID).WithError(recErr).Error("[StandingOrders] failed to record run")
			}
		}
		return outcomeFailed, err
	}

	var outcome orderOutcome
	var cycleErr error
	err = s.transfers.RunLocked(ctx, []int64{order.SourceAccountID, destID}, func(tx *gorm.DB) error {
		current, err := s.orderRepo.GetByIDForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !current.IsDue(asOf) || current.RanOn(asOf) {
			return errNotDue
		}

		id := current.ID
		req := &TransferRequest{
			SourceAccountID:      current.SourceAccountID,
			DestinationAccountID: destID,
			Amount:               current.Amount,
			Kind:                 model.EntryKindStandingOrder,
			Memo:                 current.Description,
			StandingOrderID:      &id,
		}

		runStatus, reason := model.RunStatusExecuted, ""
		outcome = outcomeExecuted
		if _, err := s.transfers.ExecuteTx(ctx, tx, req); err != nil {
			if !errors.Is(err, ErrInsufficientFunds) {
				return err
			}
			// skip this cycle but keep the cadence
			if _, err := s.transfers.RecordFailure(ctx, tx, req, err); err != nil {
				return err
			}
			runStatus, reason = model.RunStatusFailed, FailureReason(err)
			outcome, cycleErr = outcomeFailed, err
		}

		next, status, err := current.Advance()
		if err != nil {
			return err
		}
		return s.orderRepo.AdvanceSchedule(ctx, tx, current, repository.ScheduleAdvance{
			Next:      next,
			Status:    status,
			RunStatus: runStatus,
			Reason:    reason,
			AsOf:      asOf,
			RunAt:     s.now().UTC(),
		})
	})

	switch {
	case errors.Is(err, errNotDue), errors.Is(err, repository.ErrStatusConflict):
		return outcomeSkipped, nil
	case err != nil:
		if recErr := s.orderRepo.RecordFailedRun(ctx, nil, order.ID, FailureReason(err), s.now().UTC()); recErr != nil {
			s.log.WithField("order_id", order.ID).WithError(recErr).Error("[StandingOrders] failed to record run")
		}
		return outcomeFailed, err
	}
	return outcome, cycleErr
}

func (s *StandingOrderService) resolveDestination(ctx context.Context, order *model.StandingOrder) (int64, error) {
	if order.DestinationAccountID != nil {
		return *order.DestinationAccountID, nil
	}
	dest, err := s.accountRepo.GetByNumber(ctx, nil, order.DestinationAccountNumber)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return 0, ErrRecipientNotFound
	}
	if err != nil {
		return 0, err
	}
	if !dest.IsActive() {
		return 0, ErrRecipientNotFound
	}
	return dest.ID, nil
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
