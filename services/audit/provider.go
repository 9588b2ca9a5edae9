package audit

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/fx"
)

type SinkParams struct {
	fx.In

	Config    *config.Config
	Logger    *logging.Service  `optional:"true"`
	Publisher message.Publisher `optional:"true"`
	Mailer    AlertMailer       `optional:"true"`
}

func NewAuditDispatcher(p SinkParams) *Dispatcher {
	sinks := MultiSink{NewZapSink(p.Logger)}
	if p.Publisher != nil {
		sinks = append(sinks, NewPublisherSink(p.Publisher, p.Logger))
	}
	if p.Mailer != nil {
		sinks = append(sinks, NewMailSink(&p.Config.Audit, p.Mailer, p.Logger))
	}
	return NewDispatcher(&p.Config.Audit, sinks, p.Logger)
}

func RegisterShutdown(lc fx.Lifecycle, dispatcher *Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			dispatcher.Close()
			return nil
		},
	})
}

var Options = fx.Options(
	fx.Provide(NewAuditDispatcher),
	fx.Invoke(RegisterShutdown),
)
