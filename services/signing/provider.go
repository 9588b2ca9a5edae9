package signing

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/refreshledger"
	"go.uber.org/fx"
)

func NewSigningService(cfg *config.Config, ledger *refreshledger.Service, logger *logging.Service) (*Service, error) {
	return NewService(cfg, ledger, logger)
}

type OptionalRevocationService struct {
	fx.In
	RevocationService RevocationService `optional:"true"`
}

func WireRevocationService(svc *Service, optRevocationSvc OptionalRevocationService) {
	if svc != nil && optRevocationSvc.RevocationService != nil {
		svc.SetRevocationService(optRevocationSvc.RevocationService)
	}
}

var Options = fx.Options(
	fx.Provide(NewSigningService),
	fx.Invoke(WireRevocationService),
)
