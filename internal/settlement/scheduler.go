package settlement

import (
	"context"
	"errors"
	"time"

	"servicehub/internal/domain"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler checks on a cron schedule whether the active rule is due and
// runs the automated payout when it is.
type Scheduler struct {
	engine   *Engine
	refs     domain.ReferenceData
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	logger   *zerolog.Logger
}

func NewScheduler(engine *Engine, refs domain.ReferenceData, schedule string, location *time.Location, logger *zerolog.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Scheduler{
		engine:   engine,
		refs:     refs,
		cron:     cron.New(cron.WithLocation(location)),
		schedule: schedule,
		timeout:  5 * time.Minute,
		logger:   logger,
	}
}

// Start registers the job and starts the cron loop. It stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Tick(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("Payout scheduler started")

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.logger.Info().Msg("Payout scheduler stopped")
	}()
	return nil
}

// Tick runs one scheduler check. Errors are logged; the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rule, err := s.refs.GetActiveRule(ctx)
	if errors.Is(err, domain.ErrNoActiveRule) {
		s.logger.Debug().Msg("No active payout rule")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load payout rule")
		return
	}
	if !rule.IsDue(s.engine.now().In(s.engine.location)) {
		return
	}

	summary, err := s.engine.RunAutomated(ctx, RunOptions{})
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled payout run failed")
		return
	}
	if len(summary.Failed) > 0 {
		s.logger.Warn().Int("failed", len(summary.Failed)).Msg("Scheduled payout run finished with failures")
	}
}
