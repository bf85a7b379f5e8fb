package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"rentwatch/config"
	"rentwatch/models"
)

// Runner performs one full pipeline run.
type Runner interface {
	RunAll(ctx context.Context, debug bool) (*models.PipelineRun, error)
}

// Scheduler repeats full runs in daemon mode, either on a cron expression
// or on a peak/off-peak interval.
type Scheduler struct {
	cfg    config.SchedulerConfig
	runner Runner
	debug  bool
	log    *logrus.Entry

	cron   *cron.Cron
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
}

func New(cfg config.SchedulerConfig, runner Runner, debug bool, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		debug:  debug,
		log:    log.WithField("component", "scheduler"),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		s.log.Infof("Starting scheduler with cron: %s", s.cfg.Cron)
		s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runOnce(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	if s.cfg.PeakInterval <= 0 || s.cfg.OffPeakInterval <= 0 {
		return fmt.Errorf("scheduler needs SCRAPE_CRON or positive peak/off-peak intervals")
	}
	s.log.Infof("Starting scheduler: every %s between %02d:00 and %02d:00, every %s otherwise",
		s.cfg.PeakInterval, s.cfg.PeakStartHour, s.cfg.PeakEndHour, s.cfg.OffPeakInterval)

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop halts scheduling and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		close(s.stopCh)
		s.wg.Wait()
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.runOnce(ctx)

		delay := s.NextDelay(s.now())
		s.log.Infof("Next run in %s", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// NextDelay returns the pause after a run that finished at now. Hours in
// [PeakStartHour, PeakEndHour) use the peak interval.
func (s *Scheduler) NextDelay(now time.Time) time.Duration {
	h := now.Hour()
	if h >= s.cfg.PeakStartHour && h < s.cfg.PeakEndHour {
		return s.cfg.PeakInterval
	}
	return s.cfg.OffPeakInterval
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	run, err := s.runner.RunAll(ctx, s.debug)
	if err != nil {
		s.log.Errorf("Scheduled run error: %v", err)
		return
	}
	crawled, fresh, actions, notified := run.Totals()
	s.log.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"crawled":  crawled,
		"new":      fresh,
		"actions":  actions,
		"notified": notified,
		"took":     run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
	}).Info("Scheduled run finished")
}
