package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/duecycle/duecycle/internal/clock"
	"github.com/duecycle/duecycle/internal/config"
	"github.com/duecycle/duecycle/internal/migration"
	"github.com/duecycle/duecycle/internal/scheduler"
	"github.com/duecycle/duecycle/internal/server"
	"github.com/duecycle/duecycle/pkg/db"
	"github.com/duecycle/duecycle/pkg/log"
	"go.uber.org/fx"
)

// duecycle is the all-in-one binary: HTTP API plus the in-process
// scheduler, gated by SCHEDULER_ENABLED.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
