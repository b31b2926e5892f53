// Package service orchestrates one leaderboard cycle: run the evaluation
// runner, wait for jobs while releasing finished ones, rebuild and publish
// the leaderboard.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/podium/internal/adapters/codalab"
	"github.com/okian/podium/internal/adapters/executor"
	"github.com/okian/podium/internal/adapters/publish"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/internal/domain/dedupe"
	"github.com/okian/podium/internal/domain/leaderboard"
	"github.com/okian/podium/internal/domain/poll"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// CleanupReport summarizes one pass over the raw leaderboard.
type CleanupReport struct {
	// Pending counts entries whose job has not finished or whose status
	// could not be read.
	Pending int
	// Released counts prediction bundles removed in this pass.
	Released int
	// Skipped counts entries without a predictions dependency.
	Skipped int
}

// WaitReport summarizes the completion wait.
type WaitReport struct {
	Iterations int
	Pending    int
	Done       bool
	Elapsed    time.Duration
}

// FinalizeReport summarizes the final rebuild and publish.
type FinalizeReport struct {
	Stats      leaderboard.Stats
	PublishErr error
}

// CycleReport summarizes a full cycle.
type CycleReport struct {
	RunID     string
	Dispatch  leaderboard.Stats
	Wait      WaitReport
	Final     leaderboard.Stats
	Published error
}

// Service runs the pipeline against one configuration.
type Service struct {
	cfg       *config.Config
	runner    executor.Runner
	codalab   *codalab.Client
	publisher *publish.Publisher
	poller    *poll.Poller

	clock   func() time.Time
	sleeper poll.Sleeper

	// released holds prediction bundles removed during the current cycle.
	released dedupe.Deduper

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithRunner sets the command runner used for every external tool.
func WithRunner(r executor.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithSleeper replaces the pause between polling iterations.
func WithSleeper(sl poll.Sleeper) Option {
	return func(s *Service) {
		if sl != nil {
			s.sleeper = sl
		}
	}
}

// WithClock replaces the clock used for commit messages and timings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service for cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		clock:    time.Now,
		sleeper:  poll.Sleep,
		released: dedupe.NewInMemoryDeduper(),
		logger:   logger.Get().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.runner == nil {
		s.runner = executor.NewExecRunner(executor.WithMetricsTextfile(cfg.MetricsTextfile))
	}
	s.codalab = codalab.New(s.runner,
		codalab.WithBinaries(cfg.CompetitiondBin, cfg.CLBin),
		codalab.WithJob(cfg.CompetitionYAMLPath, cfg.RawLeaderboardPath),
		codalab.WithEnv(cfg.CodalabEnv()),
	)
	s.publisher = publish.New(s.runner, cfg, publish.WithClock(s.clock))
	s.poller = poll.New(
		poll.WithMaxAttempts(cfg.PollMaxIterations),
		poll.WithInterval(cfg.PollInterval),
		poll.WithSleeper(s.sleeper),
		poll.WithClock(s.clock),
	)
	return s
}

// Dispatch runs the evaluation runner in mode and normalizes the raw
// leaderboard it wrote. Runner failures are fatal to the cycle.
func (s *Service) Dispatch(ctx context.Context, mode codalab.Mode) (leaderboard.Stats, error) {
	if _, err := s.codalab.Evaluate(ctx, mode); err != nil {
		return leaderboard.Stats{}, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	return s.Normalize(ctx)
}

// Normalize rebuilds the published leaderboard from the raw one.
func (s *Service) Normalize(ctx context.Context) (leaderboard.Stats, error) {
	return leaderboard.NormalizeAndSave(ctx, s.cfg.RawLeaderboardPath, s.cfg.FinalLeaderboardPath)
}

// Cleanup checks every job on the raw leaderboard once. Prediction bundles
// of finished jobs are removed, at most once per cycle; unfinished jobs are
// counted as pending.
func (s *Service) Cleanup(ctx context.Context) (CleanupReport, error) {
	rec, err := leaderboard.Load(s.cfg.RawLeaderboardPath)
	if err != nil {
		if errors.Is(err, leaderboard.ErrNotFound) {
			return CleanupReport{}, fmt.Errorf("%w: %s", ErrLeaderboardMissing, s.cfg.RawLeaderboardPath)
		}
		return CleanupReport{}, err
	}
	if len(rec.Entries) == 0 {
		return CleanupReport{}, ErrNoJobs
	}

	var report CleanupReport
	for _, e := range rec.Entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		parent, ok := e.Predictions()
		if !ok {
			report.Skipped++
			continue
		}
		if s.released.Seen(ctx, parent) {
			continue
		}

		bundle := e.BundleID()
		done, status, err := s.codalab.JobStatus(ctx, bundle)
		if errors.Is(err, codalab.ErrInvalidBundleID) {
			s.logger.Warn(ctx, "skipping entry with invalid bundle id", logger.Error(err))
			report.Skipped++
			continue
		}
		if err != nil {
			s.logger.Warn(ctx, "job status unavailable, counting as pending",
				logger.String("bundle", bundle), logger.Error(err))
			report.Pending++
			continue
		}
		if !done {
			s.logger.Debug(ctx, "job pending", logger.String("bundle", bundle), logger.String("status", status))
			report.Pending++
			continue
		}

		if s.released.SeenAndRecord(ctx, parent) {
			continue
		}
		if err := s.codalab.Release(ctx, parent); err != nil {
			s.released.Unrecord(ctx, parent)
			s.logger.Error(ctx, "release failed", logger.String("bundle", bundle), logger.Error(err))
			continue
		}
		metrics.RecordReleasedResource()
		report.Released++
	}

	metrics.UpdatePendingJobs(report.Pending)
	s.logger.Info(ctx, "cleanup pass finished",
		logger.Int("pending", report.Pending),
		logger.Int("released", report.Released),
		logger.Int("skipped", report.Skipped),
	)
	return report, nil
}

// WaitForCompletion repeats Cleanup until no job is pending or the
// iteration budget is spent. Running out of iterations is not an error.
func (s *Service) WaitForCompletion(ctx context.Context) (WaitReport, error) {
	var last CleanupReport
	res, err := s.poller.Until(ctx, func(ctx context.Context, attempt int) (bool, error) {
		metrics.RecordPollIteration()
		r, err := s.Cleanup(ctx)
		if err != nil {
			return false, err
		}
		last = r
		s.logger.Debug(ctx, "poll iteration", logger.Int("attempt", attempt), logger.Int("pending", r.Pending))
		return r.Pending == 0, nil
	})
	report := WaitReport{
		Iterations: res.Attempts,
		Pending:    last.Pending,
		Done:       res.Done,
		Elapsed:    res.Elapsed,
	}
	if err != nil {
		return report, err
	}
	if !report.Done {
		s.logger.Warn(ctx, "jobs still pending after last poll iteration",
			logger.Int("iterations", report.Iterations),
			logger.Int("pending", report.Pending),
		)
	}
	return report, nil
}

// Publish uploads both leaderboards and pushes the normalized one. Both
// targets are attempted; their failures are joined.
func (s *Service) Publish(ctx context.Context) error {
	var errs []error
	if err := s.publisher.Upload(ctx); err != nil {
		s.logger.Error(ctx, "bucket upload failed", logger.Error(err))
		errs = append(errs, err)
	}
	if err := s.publisher.Push(ctx); err != nil {
		s.logger.Error(ctx, "git push failed", logger.Error(err))
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Finalize rebuilds the leaderboard without scheduling and publishes it.
// Publish failures only fail the call when strict_publish is set; the
// report carries them either way.
func (s *Service) Finalize(ctx context.Context) (FinalizeReport, error) {
	stats, err := s.Dispatch(ctx, codalab.LeaderboardOnly)
	if err != nil {
		return FinalizeReport{}, err
	}
	report := FinalizeReport{Stats: stats, PublishErr: s.Publish(ctx)}
	if report.PublishErr != nil && s.cfg.StrictPublish {
		return report, report.PublishErr
	}
	return report, nil
}

// RunCycle runs dispatch, completion wait and finalize in order.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{RunID: uuid.NewString()}
	base := s.logger
	s.logger = base.With(logger.String("run_id", report.RunID))
	defer func() { s.logger = base }()
	s.released.Reset()

	err := s.runCycle(ctx, &report)
	metrics.RecordCycle(err)
	if err != nil {
		s.logger.Error(ctx, "cycle failed", logger.Error(err))
		return report, err
	}
	s.logger.Info(ctx, "cycle finished",
		logger.Int("published_entries", report.Final.Kept),
		logger.Int("pending", report.Wait.Pending),
		logger.Bool("publish_ok", report.Published == nil),
	)
	return report, nil
}

func (s *Service) runCycle(ctx context.Context, report *CycleReport) error {
	s.logger.Info(ctx, "cycle started")

	stats, err := s.Dispatch(ctx, codalab.Full)
	if err != nil {
		return err
	}
	report.Dispatch = stats

	wait, err := s.WaitForCompletion(ctx)
	report.Wait = wait
	if err != nil {
		return err
	}

	final, err := s.Finalize(ctx)
	report.Final = final.Stats
	report.Published = final.PublishErr
	return err
}
