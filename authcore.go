// Package authcore is a session security core for browser-facing services.
// It issues and verifies RS256 token pairs, tracks refresh rotation in a
// replay-detecting ledger, guards state-changing requests with double-submit
// CSRF tokens and admits API requests through a layered gate. The functional
// options here are the embedding surface; hosts that need finer control can
// drive app.NewApp directly.
package authcore

import (
	"github.com/browserbridge/authcore/app"
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/internal/options"
	"github.com/browserbridge/authcore/services/anomaly"
	"go.uber.org/fx"
)

type App = app.App

// New assembles an application from functional options. With no options the
// core token services run on configuration loaded from the environment.
func New(opts ...options.Option) (*App, error) {
	o := options.Apply(opts...)

	builder := app.NewApp()

	if o.Config != nil {
		builder.WithConfig(o.Config)
	} else {
		builder.WithAutoConfig()
	}
	if o.EnableDatabase {
		builder.WithDatabase(o.DatabaseModels...)
	}
	if o.EnableAccounts {
		builder.WithAccounts()
	}
	if o.EnableStepUp {
		builder.WithStepUp()
	}
	if o.EnableMail {
		builder.WithMail()
	}
	if o.Scorer != nil {
		builder.WithScorer(o.Scorer)
	}
	if len(o.ExtraFxOptions) > 0 {
		builder.WithFxOptions(o.ExtraFxOptions...)
	}

	return builder.Build()
}

func WithConfig(cfg *config.Config) options.Option {
	return options.WithConfig(cfg)
}

func WithDatabase(models ...any) options.Option {
	return options.WithDatabase(models...)
}

func WithAccounts() options.Option {
	return options.WithAccounts()
}

func WithStepUp() options.Option {
	return options.WithStepUp()
}

func WithMail() options.Option {
	return options.WithMail()
}

func WithScorer(scorer anomaly.Scorer) options.Option {
	return options.WithScorer(scorer)
}

func WithFxOptions(fxOpts ...fx.Option) options.Option {
	return options.WithFxOptions(fxOpts...)
}
