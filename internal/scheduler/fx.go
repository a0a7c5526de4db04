package scheduler

import (
	"context"

	"go.uber.org/fx"

	"github.com/duecycle/duecycle/internal/config"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Start),
)

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.Spec = cfg.SchedulerCron
	return c
}

// Start launches the cron loop when the scheduler is enabled.
func Start(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				_ = sched.RunForever(runCtx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
