package job

import (
	"context"
	"time"

	"retailledger/internal/service"

	"github.com/sirupsen/logrus"
)

type StandingOrderRunner interface {
	RunDueOrders(ctx context.Context, asOf time.Time) (*service.RunResult, error)
}

// StandingOrderJob executes the orders due on today's date in the scheduler
// timezone.
type StandingOrderJob struct {
	runner  StandingOrderRunner
	loc     *time.Location
	now     func() time.Time
	timeout time.Duration
	log     *logrus.Logger
}

func NewStandingOrderJob(runner StandingOrderRunner, loc *time.Location, log *logrus.Logger) *StandingOrderJob {
	if loc == nil {
		loc = time.UTC
	}
	return &StandingOrderJob{
		runner:  runner,
		loc:     loc,
		now:     time.Now,
		timeout: 30 * time.Minute,
		log:     log,
	}
}

func (j *StandingOrderJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	asOf := j.now().In(j.loc)
	result, err := j.runner.RunDueOrders(ctx, asOf)
	if err != nil {
		j.log.WithError(err).WithField("as_of", asOf.Format("2006-01-02")).Error("standing order run failed")
		return
	}
	j.log.WithFields(logrus.Fields{
		"as_of":    result.AsOf.Format("2006-01-02"),
		"executed": len(result.ExecutedIDs),
		"failed":   len(result.FailedIDs),
	}).Info("standing order job finished")
}
