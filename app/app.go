package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/admission"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/auth"
	"github.com/browserbridge/authcore/services/csrfguard"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/refreshledger"
	"github.com/browserbridge/authcore/services/revocation"
	"github.com/browserbridge/authcore/services/signing"
	"github.com/browserbridge/authcore/services/stepup"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	fx     *fx.App
	config *config.Config
	logger *logging.Service
	core   CoreServices
}

func (a *App) Start() error {
	return a.fx.Start(context.Background())
}

func (a *App) StartTest() error {
	return a.fx.Start(context.Background())
}

func (a *App) Run() {
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	if a.logger != nil {
		a.logger.Info("Received shutdown signal, stopping gracefully...")
	} else {
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	}

	a.Stop()
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Failed to stop application gracefully", zap.Error(err))
		} else {
			log.Printf("Failed to stop application gracefully: %v", err)
		}
	}
}

func (a *App) StopTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Failed to stop test application", zap.Error(err))
		} else {
			log.Printf("Failed to stop test application: %v", err)
		}
	}
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) DB() *gorm.DB {
	return a.core.DB
}

func (a *App) Signing() *signing.Service {
	return a.core.Signing
}

func (a *App) Ledger() *refreshledger.Service {
	return a.core.Ledger
}

func (a *App) Revocation() *revocation.Service {
	return a.core.Revocation
}

func (a *App) CSRF() *csrfguard.Service {
	return a.core.CSRF
}

func (a *App) Gate() *admission.Gate {
	return a.core.Gate
}

func (a *App) Audit() *audit.Dispatcher {
	return a.core.Dispatcher
}

func (a *App) Auth() *auth.Service {
	return a.core.Auth
}

func (a *App) StepUp() *stepup.Service {
	return a.core.StepUp
}
