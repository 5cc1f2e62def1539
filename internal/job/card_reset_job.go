package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type SpendResetter interface {
	ResetSpent(ctx context.Context) (int64, error)
}

// CardSpendResetJob opens a new spending period on every card.
type CardSpendResetJob struct {
	cards SpendResetter
	log   *logrus.Logger
}

func NewCardSpendResetJob(cards SpendResetter, log *logrus.Logger) *CardSpendResetJob {
	return &CardSpendResetJob{cards: cards, log: log}
}

func (j *CardSpendResetJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.cards.ResetSpent(ctx)
	if err != nil {
		j.log.WithError(err).Error("card spend reset failed")
		return
	}
	j.log.WithField("cards", n).Info("card spend reset job finished")
}
