package queue

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically triggers a processing run so entries left pending, for example after a
// restart, are picked up.
type Sweeper struct {
	cron *cron.Cron
}

// NewSweeper schedules q.Kick on schedule, a cron spec such as "@every 30s".
func NewSweeper(q *Queue, schedule string, log logrus.FieldLogger) (*Sweeper, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := cron.New(cron.WithLogger(cron.PrintfLogger(log.WithField("component", "sweeper"))))
	if _, err := c.AddFunc(schedule, q.Kick); err != nil {
		return nil, errors.Wrapf(err, "sweep schedule %q", schedule)
	}
	return &Sweeper{cron: c}, nil
}

// Start runs the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running job has returned.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
