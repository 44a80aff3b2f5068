package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// DefaultSchedule runs the sweep at the top of every hour
const DefaultSchedule = "@hourly"

const sweepTimeout = 5 * time.Minute

// Store is the subset of storage the sweep needs
type Store interface {
	DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error)
	ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// Result counts what one sweep removed
type Result struct {
	RefreshTokens int64
	Codes         int64
}

// Janitor periodically purges expired refresh tokens and clears expired
// verification and reset codes
type Janitor struct {
	store   Store
	cron    *cron.Cron
	logger  *logrus.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New schedules the sweep. The schedule uses standard cron syntax or
// descriptors such as "@hourly".
func New(store Store, schedule string, logger *logrus.Logger, metrics *observability.Metrics) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cronLogger := cron.PrintfLogger(logger)
	j := &Janitor{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start runs the scheduler in the background
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.WithField("entries", len(j.cron.Entries())).Info("Janitor started")
}

// Stop halts the scheduler and waits for a running sweep to finish
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.logger.Info("Janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.WithError(err).Error("Janitor sweep failed")
	}
}

// RunOnce performs a single sweep. Both purges run even if one fails.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	now := j.now()
	var result Result
	var errs []error

	n, err := j.store.DeleteExpiredRefresh(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge refresh tokens: %w", err))
	} else {
		result.RefreshTokens = n
		j.metrics.RecordPurged("refresh_token", n)
	}

	n, err = j.store.ClearExpiredCodes(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("clear expired codes: %w", err))
	} else {
		result.Codes = n
		j.metrics.RecordPurged("code", n)
	}

	j.logger.WithFields(logrus.Fields{
		"refresh_tokens": result.RefreshTokens,
		"codes":          result.Codes,
	}).Info("Janitor sweep completed")

	return result, errors.Join(errs...)
}
