package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/duecycle/duecycle/internal/balance"
	"github.com/duecycle/duecycle/internal/billingrun"
	"github.com/duecycle/duecycle/internal/charge"
	"github.com/duecycle/duecycle/internal/clock"
	"github.com/duecycle/duecycle/internal/config"
	"github.com/duecycle/duecycle/internal/member"
	"github.com/duecycle/duecycle/internal/scheduler"
	"github.com/duecycle/duecycle/internal/settings"
	"github.com/duecycle/duecycle/pkg/db"
	"github.com/duecycle/duecycle/pkg/log"
	"go.uber.org/fx"
)

// Standalone scheduler worker. Runs the billing cron without the HTTP API,
// for deployments that separate the API from background processing.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,

		settings.Module,
		balance.Module,
		member.Module,
		charge.Module,
		billingrun.Module,
		scheduler.Module,
	)
	app.Run()
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
