package charge

import (
	"go.uber.org/fx"

	"github.com/duecycle/duecycle/internal/charge/repository"
	"github.com/duecycle/duecycle/internal/charge/service"
)

var Module = fx.Module("charge.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
