package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/featuregate/internal/account"
	"github.com/smallbiznis/featuregate/internal/auth"
	"github.com/smallbiznis/featuregate/internal/billing"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/entitlement"
	"github.com/smallbiznis/featuregate/internal/migration"
	"github.com/smallbiznis/featuregate/internal/observability"
	"github.com/smallbiznis/featuregate/internal/reconcile"
	"github.com/smallbiznis/featuregate/internal/server"
	"github.com/smallbiznis/featuregate/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		account.Module,
		auth.Module,
		billing.Module,
		entitlement.Module,
		reconcile.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
