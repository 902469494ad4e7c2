package entitlement

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/featuregate/internal/entitlement/repository"
	"github.com/smallbiznis/featuregate/internal/entitlement/service"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
