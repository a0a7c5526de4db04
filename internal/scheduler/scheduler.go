// Package scheduler drives periodic billing passes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/duecycle/duecycle/internal/billingrun"
	chargedomain "github.com/duecycle/duecycle/internal/charge/domain"
	"github.com/duecycle/duecycle/internal/clock"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingRun *billingrun.Service
	ChargeSvc  chargedomain.Service
	Config     Config `optional:"true"`
}

// Scheduler runs the billing pass and the legacy status sweep on a cron
// cadence. All jobs are idempotent, so an overlapping or repeated trigger
// is safe.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingRun *billingrun.Service
	chargeSvc  chargedomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.BillingRun == nil || p.ChargeSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		billingRun: p.BillingRun,
		chargeSvc:  p.ChargeSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	start := s.clock.Now()
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)

	if err == nil {
		s.log.Info("job finished",
			zap.String("job", name),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	// Deadline is a soft timeout: the next trigger picks up where this
	// one stopped because every job re-derives its work set.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err))
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one pass of every enabled job.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"billing_run", func(ctx context.Context) error {
			_, runErr := s.billingRun.Run(ctx, s.clock.Now(), s.cfg.Lookahead)
			return runErr
		}},
		{"legacy_status_sweep", func(ctx context.Context) error {
			_, runErr := s.chargeSvc.ReconcileLegacyStatuses(ctx)
			return runErr
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}

	return err
}

// RunForever blocks, firing RunOnce on the configured cron spec until the
// context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) error {
	schedule, err := cron.ParseStandard(s.cfg.Spec)
	if err != nil {
		return fmt.Errorf("scheduler: parse spec %q: %w", s.cfg.Spec, err)
	}

	for {
		now := s.clock.Now()
		next := schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	for _, disabled := range s.cfg.DisabledJobs {
		if disabled == name {
			return false
		}
	}
	return true
}
