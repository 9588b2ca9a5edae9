package auth

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/csrfguard"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/signing"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type ServiceParams struct {
	fx.In

	Config     *config.Config
	DB         *gorm.DB
	Signing    *signing.Service
	CSRF       *csrfguard.Service `optional:"true"`
	Dispatcher *audit.Dispatcher  `optional:"true"`
	Logger     *logging.Service   `optional:"true"`
}

func NewAuthService(p ServiceParams) *Service {
	return NewService(p.Config, p.DB, p.Signing, p.CSRF, p.Dispatcher, p.Logger)
}

var Options = fx.Options(
	fx.Provide(NewAuthService),
)
