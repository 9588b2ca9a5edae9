package mail

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/fx"
)

func ProvideMailService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	return NewService(&cfg.Mail, logger)
}

func ProvideAlertMailer(service *Service) audit.AlertMailer {
	return service
}

var Options = fx.Options(
	fx.Provide(ProvideMailService),
	fx.Provide(ProvideAlertMailer),
)
