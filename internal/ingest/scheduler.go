package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
)

const (
	DefaultCollectSchedule = "30 0 * * *"
	DefaultBuildSchedule   = "0 1 * * *"
)

// BuildFunc builds the merged analysis for every station for one civil date.
type BuildFunc func(ctx context.Context, date time.Time) error

// Scheduler runs the daily collect and build jobs on cron schedules
// evaluated in the station time zone.
type Scheduler struct {
	cron      *cron.Cron
	collector *Collector
	build     BuildFunc
	stations  []models.Station
	loc       *time.Location
	clock     clockwork.Clock
	logger    *slog.Logger
	timeout   time.Duration

	CollectSchedule string
	BuildSchedule   string
}

func NewScheduler(collector *Collector, build BuildFunc, stations []models.Station, loc *time.Location, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		collector:       collector,
		build:           build,
		stations:        stations,
		loc:             loc,
		clock:           clock,
		logger:          logger,
		timeout:         15 * time.Minute,
		CollectSchedule: DefaultCollectSchedule,
		BuildSchedule:   DefaultBuildSchedule,
	}
}

// Start registers the jobs and starts the cron runner in the background.
func (s *Scheduler) Start() error {
	if len(s.stations) == 0 {
		s.logger.Info("scheduler: no stations configured; nothing to schedule")
		return nil
	}
	if s.collector != nil {
		if _, err := s.cron.AddFunc(s.CollectSchedule, s.runCollect); err != nil {
			return fmt.Errorf("schedule collect %q: %w", s.CollectSchedule, err)
		}
	}
	if s.build != nil {
		if _, err := s.cron.AddFunc(s.BuildSchedule, s.runBuild); err != nil {
			return fmt.Errorf("schedule build %q: %w", s.BuildSchedule, err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler: started", "collect", s.CollectSchedule, "build", s.BuildSchedule, "tz", s.loc.String())
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) runCollect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.collector.CollectAll(ctx, s.stations); err != nil {
		s.logger.Error("scheduler: collect failed", "error", err)
		return
	}
	s.logger.Info("scheduler: collect complete")
}

func (s *Scheduler) runBuild() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	date := normalize.Yesterday(s.clock.Now(), s.loc)
	if err := s.build(ctx, date); err != nil {
		s.logger.Error("scheduler: build failed", "date", date.Format(models.DateLayout), "error", err)
		return
	}
	s.logger.Info("scheduler: build complete", "date", date.Format(models.DateLayout))
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
