package revocation

import (
	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type OptionalDB struct {
	fx.In
	DB *gorm.DB `optional:"true"`
}

func NewRevocationService(cfg *config.Config, logger *logging.Service, optDB OptionalDB) *Service {
	var store Store
	if optDB.DB != nil {
		store = NewMemoryStoreWithDB(optDB.DB, logger)
	} else {
		store = NewMemoryStore()
	}
	return NewService(cfg, store, logger)
}

func StartSweepWorker(lc fx.Lifecycle, svc *Service, cfg *config.Config) {
	lc.Append(fx.StartStopHook(
		func() {
			if store, ok := svc.store.(*MemoryStore); ok {
				_ = store.LoadFromDatabase()
			}
			svc.Start(cfg.Signing.SweepInterval)
		},
		svc.Stop,
	))
}

var Options = fx.Options(
	fx.Provide(NewRevocationService),
	fx.Invoke(StartSweepWorker),
)
