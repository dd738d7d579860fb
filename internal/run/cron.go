package run

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler reruns finalized scenarios on cron schedules, the regression
// mode: a learned scenario replayed nightly catches API drift early.
type Scheduler struct {
	driver *Driver
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler builds a scheduler over the driver.
func NewScheduler(driver *Driver, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver: driver,
		cron:   cron.New(),
		logger: logger,
	}
}

// Add schedules a scenario file. The file is re-read on every trigger so
// edits take effect without rescheduling.
func (s *Scheduler) Add(spec, scenarioPath string) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		scenario, err := LoadScenario(scenarioPath)
		if err != nil {
			s.logger.Error("scheduled rerun skipped", "scenario", scenarioPath, "error", err)
			return
		}
		results, err := s.driver.Rerun(context.Background(), scenario, nil)
		if err != nil {
			s.logger.Error("scheduled rerun failed",
				"scenario", scenario.Name, "completed_steps", len(results), "error", err)
			return
		}
		s.logger.Info("scheduled rerun passed", "scenario", scenario.Name, "steps", len(results))
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return id, nil
}

// Start launches the scheduler's goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop ends scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
