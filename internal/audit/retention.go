package audit

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner removes log files older than a cutoff. FileWriter implements it.
type Pruner interface {
	RemoveOlderThan(cutoff time.Time) (int, error)
}

// RetentionJob deletes audit files older than MaxAge on a cron schedule.
type RetentionJob struct {
	pruner Pruner
	maxAge time.Duration
	clock  func() time.Time
	logger *zap.Logger
	cron   *cron.Cron
}

func NewRetentionJob(pruner Pruner, maxAge time.Duration, logger *zap.Logger) *RetentionJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionJob{
		pruner: pruner,
		maxAge: maxAge,
		clock:  time.Now,
		logger: logger.Named("audit_retention"),
	}
}

// Run prunes once and returns the number of files removed.
func (j *RetentionJob) Run() (int, error) {
	cutoff := j.clock().Add(-j.maxAge)
	n, err := j.pruner.RemoveOlderThan(cutoff)
	if err != nil {
		j.logger.Error("audit retention failed", zap.Error(err))
		return n, err
	}
	if n > 0 {
		j.logger.Info("audit logs pruned", zap.Int("removed", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Start schedules Run with a standard five-field cron spec.
func (j *RetentionJob) Start(spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() { _, _ = j.Run() }); err != nil {
		return fmt.Errorf("schedule audit retention %q: %w", spec, err)
	}
	j.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *RetentionJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
