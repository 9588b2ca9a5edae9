package csrfguard

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/fx"
)

func NewCSRFGuard(cfg *config.Config, logger *logging.Service) *Service {
	return NewService(cfg, NewMemoryStore(), logger)
}

func StartSweepWorker(lc fx.Lifecycle, svc *Service, cfg *config.Config) {
	if !cfg.CSRF.Enabled {
		return
	}
	lc.Append(fx.StartStopHook(
		func() { svc.Start(cfg.CSRF.SweepInterval) },
		svc.Stop,
	))
}

var Options = fx.Options(
	fx.Provide(NewCSRFGuard),
	fx.Invoke(StartSweepWorker),
)
