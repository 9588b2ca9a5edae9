package options

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/anomaly"
	"go.uber.org/fx"
)

type Options struct {
	Config         *config.Config
	EnableDatabase bool
	DatabaseModels []any
	EnableAccounts bool
	EnableMail     bool
	EnableStepUp   bool
	Scorer         anomaly.Scorer
	ExtraFxOptions []fx.Option
}

type Option func(*Options)

func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithConfig(cfg *config.Config) Option {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

func WithDatabase(models ...any) Option {
	return func(opts *Options) {
		opts.EnableDatabase = true
		opts.DatabaseModels = append(opts.DatabaseModels, models...)
	}
}

func WithAccounts() Option {
	return func(opts *Options) {
		opts.EnableAccounts = true
	}
}

func WithMail() Option {
	return func(opts *Options) {
		opts.EnableMail = true
	}
}

func WithStepUp() Option {
	return func(opts *Options) {
		opts.EnableStepUp = true
	}
}

func WithScorer(scorer anomaly.Scorer) Option {
	return func(opts *Options) {
		opts.Scorer = scorer
	}
}

func WithFxOptions(fxOpts ...fx.Option) Option {
	return func(opts *Options) {
		opts.ExtraFxOptions = append(opts.ExtraFxOptions, fxOpts...)
	}
}
