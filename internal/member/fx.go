package member

import (
	"github.com/duecycle/duecycle/internal/member/repository"
	"github.com/duecycle/duecycle/internal/member/service"
	"go.uber.org/fx"
)

var Module = fx.Module("member.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
