package refreshledger

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/fx"
)

func NewLedgerService(cfg *config.Config, logger *logging.Service) *Service {
	return NewService(cfg, logger)
}

func StartSweepWorker(lc fx.Lifecycle, svc *Service, cfg *config.Config) {
	lc.Append(fx.StartStopHook(
		func() { svc.Start(cfg.Signing.SweepInterval) },
		svc.Stop,
	))
}

var Options = fx.Options(
	fx.Provide(NewLedgerService),
	fx.Invoke(StartSweepWorker),
)
