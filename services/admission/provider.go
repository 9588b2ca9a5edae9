package admission

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/anomaly"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/signing"
	"go.uber.org/fx"
)

type GateParams struct {
	fx.In

	Config     *config.Config
	Signing    *signing.Service
	Scorer     anomaly.Scorer    `optional:"true"`
	Dispatcher *audit.Dispatcher `optional:"true"`
	Logger     *logging.Service  `optional:"true"`
}

func NewAdmissionGate(p GateParams) *Gate {
	return NewGate(p.Config, p.Signing, p.Scorer, p.Dispatcher, p.Logger)
}

var Options = fx.Options(
	fx.Provide(NewAdmissionGate),
)
