package billing

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/featuregate/internal/billing/stripe"
)

var Module = fx.Module("billing.gateway",
	fx.Provide(stripe.New),
)
