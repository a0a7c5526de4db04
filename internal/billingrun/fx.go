package billingrun

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("billingrun.service",
	fx.Provide(func() *Metrics { return NewMetrics(prometheus.DefaultRegisterer) }),
	fx.Provide(NewService),
)
