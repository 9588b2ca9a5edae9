package app

import (
	"fmt"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/database"
	"github.com/browserbridge/authcore/services/admission"
	"github.com/browserbridge/authcore/services/anomaly"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/auth"
	"github.com/browserbridge/authcore/services/csrfguard"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/mail"
	"github.com/browserbridge/authcore/services/refreshledger"
	"github.com/browserbridge/authcore/services/revocation"
	"github.com/browserbridge/authcore/services/signing"
	"github.com/browserbridge/authcore/services/stepup"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// AppBuilder assembles the security core and its optional collaborators into
// one fx application. The token services (signing, ledger, revocation, CSRF
// guard, admission gate, audit) are always wired; persistence, accounts,
// step-up and mail are opt-in.
type AppBuilder struct {
	config    *config.Config
	services  map[string]bool
	models    []any
	scorer    anomaly.Scorer
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		services:  make(map[string]bool),
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	if cfg.Admission.PolicyFile != "" {
		policy, err := config.LoadPolicy(cfg.Admission.PolicyFile)
		if err != nil {
			b.addError(fmt.Sprintf("failed to load admission policy: %v", err))
			return b
		}
		config.ApplyPolicy(cfg, policy)
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithDatabase(models ...any) *AppBuilder {
	b.services["database"] = true
	b.models = append(b.models, models...)
	return b
}

func (b *AppBuilder) WithAccounts() *AppBuilder {
	b.services["accounts"] = true
	b.services["database"] = true
	b.models = append(b.models, &auth.User{})
	return b
}

func (b *AppBuilder) WithStepUp() *AppBuilder {
	b.services["stepup"] = true
	b.services["database"] = true
	b.models = append(b.models, &stepup.Enrollment{}, &stepup.UsedCode{})
	return b
}

func (b *AppBuilder) WithMail() *AppBuilder {
	b.services["mail"] = true
	return b
}

func (b *AppBuilder) WithScorer(scorer anomaly.Scorer) *AppBuilder {
	if scorer == nil {
		b.addError("scorer cannot be nil")
		return b
	}
	b.scorer = scorer
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if b.config == nil {
		if err := b.WithAutoConfig().validate(); err != nil {
			return nil, err
		}
	}

	logger, err := b.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{
		config: b.config,
		logger: logger,
	}

	fxOptions := b.buildFxOptions(logger)
	fxOptions = append(fxOptions, fx.Invoke(func(core CoreServices) {
		app.core = core
	}))

	app.fx = fx.New(fxOptions...)
	if err := app.fx.Err(); err != nil {
		return nil, fmt.Errorf("failed to assemble application: %w", err)
	}

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	return nil
}

func (b *AppBuilder) createLogger() (*logging.Service, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config required for logger creation")
	}

	return logging.NewService(logging.Config{
		Level:      logging.LogLevel(b.config.Log.Level),
		Format:     b.config.Log.Format,
		OutputPath: b.config.Log.Output,
	})
}

func (b *AppBuilder) buildFxOptions(logger *logging.Service) []fx.Option {
	options := []fx.Option{
		fx.Supply(b.config),
		fx.Supply(logger),
		fx.NopLogger,
	}

	if b.services["database"] {
		modelsOpt := database.WithModels(b.models...)
		options = append(options,
			fx.Supply(modelsOpt),
			database.Module,
		)
	}

	// the core token pipeline is always present
	options = append(options,
		revocation.Options,
		refreshledger.Options,
		signing.Options,
		fx.Provide(func(svc *revocation.Service) signing.RevocationService { return svc }),
		csrfguard.Options,
		admission.Options,
		audit.Options,
	)

	if b.scorer != nil {
		scorer := b.scorer
		options = append(options, fx.Provide(func() anomaly.Scorer { return scorer }))
	} else {
		options = append(options, anomaly.Options)
	}

	if b.services["accounts"] {
		options = append(options, auth.Options)
	}
	if b.services["stepup"] {
		options = append(options, stepup.Options)
	}
	if b.services["mail"] {
		options = append(options, mail.Options)
	}

	options = append(options, b.fxOptions...)

	return options
}

// CoreServices bundles the assembled security services for host access.
type CoreServices struct {
	fx.In

	DB         *gorm.DB `optional:"true"`
	Signing    *signing.Service
	Ledger     *refreshledger.Service
	Revocation *revocation.Service
	CSRF       *csrfguard.Service
	Gate       *admission.Gate
	Dispatcher *audit.Dispatcher
	Auth       *auth.Service   `optional:"true"`
	StepUp     *stepup.Service `optional:"true"`
}
