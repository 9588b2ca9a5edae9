package refreshledger

import (
	"errors"
	"sync"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
)

var ErrEntryNotFound = errors.New("refresh ledger entry not found")

// Service owns the live refresh-token table: exactly one entry per issued,
// unrotated refresh token. Rotation removes the old entry and records the
// new one; a refresh JTI with no entry is the replay/reuse signal.
type Service struct {
	config *config.Config
	logger *logging.Service

	mu      sync.Mutex
	entries map[string]Entry

	done    chan struct{}
	stopped sync.WaitGroup
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing refresh ledger",
			zap.Duration("refresh_expiry", cfg.Signing.RefreshExpiry),
			zap.Duration("sweep_interval", cfg.Signing.SweepInterval))
	}

	return &Service{
		config:  cfg,
		logger:  logger,
		entries: make(map[string]Entry),
	}
}

// Record registers a freshly issued refresh token and its linked access JTI.
func (s *Service) Record(refreshJTI string, entry Entry) {
	s.mu.Lock()
	s.entries[refreshJTI] = entry
	total := len(s.entries)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("refresh ledger entry recorded",
			zap.String("refresh_jti", refreshJTI),
			zap.String("user_id", entry.UserID),
			zap.String("session_id", entry.SessionID),
			zap.Int("live_entries", total))
	}
}

func (s *Service) Get(refreshJTI string) (Entry, error) {
	s.mu.Lock()
	entry, ok := s.entries[refreshJTI]
	s.mu.Unlock()

	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return entry, nil
}

// CheckAndDelete removes and returns the entry in one step. This is the
// operation that makes refresh tokens single-use: of two concurrent rotation
// attempts with the same token, exactly one gets the entry.
func (s *Service) CheckAndDelete(refreshJTI string) (Entry, error) {
	s.mu.Lock()
	entry, ok := s.entries[refreshJTI]
	if ok {
		delete(s.entries, refreshJTI)
	}
	s.mu.Unlock()

	if !ok {
		if s.logger != nil {
			s.logger.Warn("refresh ledger miss on rotation, possible replay",
				zap.String("refresh_jti", refreshJTI))
		}
		return Entry{}, ErrEntryNotFound
	}

	return entry, nil
}

func (s *Service) Touch(refreshJTI string) {
	s.mu.Lock()
	if entry, ok := s.entries[refreshJTI]; ok {
		entry.LastUsed = time.Now()
		s.entries[refreshJTI] = entry
	}
	s.mu.Unlock()
}

// RemoveMatching deletes every entry the filter selects and returns the
// removed entries keyed by refresh JTI, so the caller can blacklist both
// halves of each family.
func (s *Service) RemoveMatching(filter Filter) map[string]Entry {
	s.mu.Lock()
	removed := make(map[string]Entry)
	for jti, entry := range s.entries {
		if filter.matches(entry) {
			removed[jti] = entry
			delete(s.entries, jti)
		}
	}
	s.mu.Unlock()

	if s.logger != nil && len(removed) > 0 {
		s.logger.Info("refresh ledger entries removed",
			zap.String("user_id", filter.UserID),
			zap.String("session_id", filter.SessionID),
			zap.Int("removed", len(removed)))
	}

	return removed
}

// JTIsMatching returns the refresh JTIs the filter selects, without removing
// them. Used to assemble the family blacklist before deletion.
func (s *Service) JTIsMatching(filter Filter) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jtis []string
	for jti, entry := range s.entries {
		if filter.matches(entry) {
			jtis = append(jtis, jti)
		}
	}
	return jtis
}

// Sweep drops entries older than the refresh lifetime. It is the fail-safe
// bound on memory when normal rotation or revocation never fired.
func (s *Service) Sweep() int {
	cutoff := time.Now().Add(-s.config.Signing.RefreshExpiry)

	s.mu.Lock()
	removed := 0
	for jti, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, jti)
			removed++
		}
	}
	s.mu.Unlock()

	if s.logger != nil && removed > 0 {
		s.logger.Info("refresh ledger sweep removed stale entries",
			zap.Int("removed", removed))
	}

	return removed
}

func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
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
				s.Sweep()
			case <-done:
				return
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started refresh ledger sweep worker",
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
}
