package kpi

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"servicebox.io/fsmcore/internal/metrics"
	"servicebox.io/fsmcore/internal/pkg/logger"
)

// Scheduler runs a Rebuilder on a cron schedule, always rebuilding
// yesterday's and today's rows so a day that straddled the previous run
// gets picked up once more with complete data.
type Scheduler struct {
	cron *cron.Cron
	job  func(ctx context.Context)
}

// NewScheduler builds a Scheduler that rebuilds on spec (standard 5-field
// cron syntax). now is injectable for tests; pass nil to use time.Now.
func NewScheduler(rebuilder *Rebuilder, spec string, now func() time.Time) (*Scheduler, error) {
	if now == nil {
		now = time.Now
	}
	job := func(ctx context.Context) {
		start := time.Now()
		defer func() {
			metrics.KPIRebuildDuration.Observe(time.Since(start).Seconds())
		}()

		today := now().UTC().Truncate(24 * time.Hour)
		yesterday := today.Add(-24 * time.Hour)
		if err := rebuilder.RebuildRange(ctx, yesterday, today); err != nil {
			logger.Error("kpi rebuild failed", zap.Error(err))
			return
		}
		logger.Info("kpi rebuild complete", zap.Time("from", yesterday), zap.Time("to", today))
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { job(context.Background()) }); err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, job: job}, nil
}

// Start begins the cron schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow executes one rebuild of yesterday and today immediately, outside
// the cron schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.job(ctx)
}
