package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the periodic jobs on cron expressions evaluated in a fixed
// timezone. A run still in progress when the next tick fires is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Logger
}

func NewScheduler(loc *time.Location, log *logrus.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(log)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{cron: c, log: log}
}

// Register adds fn under spec, a standard five field cron expression.
func (s *Scheduler) Register(name, spec string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("job scheduled")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
