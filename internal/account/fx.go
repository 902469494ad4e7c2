package account

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/featuregate/internal/account/repository"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.New),
)
