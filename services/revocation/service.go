package revocation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
)

var ErrStoreNotConfigured = errors.New("revocation store not configured")

// Service is the blacklist half of the revocation ledger: membership of a JTI
// means "reject regardless of signature validity". Absence proves nothing;
// verification still checks signature and expiry.
type Service struct {
	config *config.Config
	store  Store
	logger *logging.Service

	mu      sync.Mutex
	done    chan struct{}
	stopped sync.WaitGroup
}

func NewService(cfg *config.Config, store Store, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing token revocation service",
			zap.Duration("sweep_interval", cfg.Signing.SweepInterval))
	}

	return &Service{
		config: cfg,
		store:  store,
		logger: logger,
	}
}

func (s *Service) Revoke(jti string, expiresAt time.Time) error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}

	if err := s.store.Revoke(jti, expiresAt); err != nil {
		return fmt.Errorf("failed to revoke token by JTI: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("token revoked",
			zap.String("jti", jti),
			zap.Time("expires_at", expiresAt))
	}

	return nil
}

func (s *Service) IsRevoked(jti string) (bool, error) {
	if s.store == nil {
		return false, ErrStoreNotConfigured
	}

	revoked, err := s.store.IsRevoked(jti)
	if err != nil {
		return false, fmt.Errorf("failed to check JTI revocation status: %w", err)
	}

	return revoked, nil
}

func (s *Service) CleanupExpired() error {
	if s.store == nil {
		return ErrStoreNotConfigured
	}

	evicted, err := s.store.CleanupExpired()
	if err != nil {
		return fmt.Errorf("failed to cleanup expired revocations: %w", err)
	}

	if s.logger != nil && evicted > 0 {
		s.logger.Debug("revocation sweep completed", zap.Int("evicted", evicted))
	}

	return nil
}

// Start launches the periodic sweep worker. Stop must be called to release it.
func (s *Service) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if s.store == nil {
		if s.logger != nil {
			s.logger.Warn("cannot start revocation sweep: store not configured")
		}
		return
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.CleanupExpired(); err != nil && s.logger != nil {
					s.logger.Error("revocation sweep failed", zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started revocation sweep worker",
			zap.Duration("interval", interval))
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	s.stopped.Wait()

	if err := s.store.SaveToDatabase(); err != nil && s.logger != nil {
		s.logger.Error("failed to persist revocations on shutdown", zap.Error(err))
	}
}
