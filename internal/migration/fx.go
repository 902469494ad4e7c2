package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	accountdomain "github.com/smallbiznis/featuregate/internal/account/domain"
	"github.com/smallbiznis/featuregate/internal/config"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/reconcile"
	"github.com/smallbiznis/featuregate/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Local sqlite runs have no migration driver; build the
			// schema from the models instead.
			err := conn.AutoMigrate(
				&accountdomain.Account{},
				&accountdomain.User{},
				&entitlementdomain.Entitlement{},
				&reconcile.ProcessedEvent{},
			)
			if err != nil {
				return err
			}
		}

		if cfg.SeedDevData {
			return seed.EnsureDevAccount(conn)
		}
		return nil
	}),
)
