package auth

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/featuregate/internal/auth/service"
)

var Module = fx.Module("auth.service",
	fx.Provide(service.New),
)
