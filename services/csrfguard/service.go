package csrfguard

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
)

var (
	ErrMissingToken     = errors.New("CSRF token missing")
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrExpired          = errors.New("CSRF token expired")
	ErrGenerationFailed = errors.New("failed to generate CSRF token")
)

const randomBytes = 16

// Service implements the double-submit cookie pattern: the same opaque value
// travels in a cookie and a header, is kept server-side, and validates only
// when every channel agrees.
type Service struct {
	config *config.Config
	store  Store
	logger *logging.Service

	now func() time.Time

	mu      sync.Mutex
	done    chan struct{}
	stopped sync.WaitGroup
}

func NewService(cfg *config.Config, store Store, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing CSRF guard",
			zap.Duration("token_expiry", cfg.CSRF.TokenExpiry),
			zap.String("header_name", cfg.CSRF.HeaderName),
			zap.String("cookie_name", cfg.CSRF.CookieName),
			zap.Int("trusted_extensions", len(cfg.CSRF.TrustedExtensions)))
	}

	return &Service{
		config: cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Issue mints a token of the form <randomHex>.<unixMillis>.<hmacHex> and
// records it server-side with the supplied binding.
func (s *Service) Issue(sessionID, userID string) (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to read random bytes for CSRF token", zap.Error(err))
		}
		return "", ErrGenerationFailed
	}

	random := hex.EncodeToString(buf)
	issuedAt := s.now()
	timestamp := strconv.FormatInt(issuedAt.UnixMilli(), 10)
	token := fmt.Sprintf("%s.%s.%s", random, timestamp, s.mac(random, timestamp))

	s.store.Put(token, TokenData{
		Token:     token,
		CreatedAt: issuedAt,
		SessionID: sessionID,
		UserID:    userID,
	})

	if s.logger != nil {
		s.logger.Debug("CSRF token issued",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID))
	}

	return token, nil
}

// Check returns the precise failure; Validate collapses it to the bool the
// double-submit contract promises. Every condition must hold, no partial
// credit.
func (s *Service) Check(headerToken, cookieToken, sessionID, userID string) error {
	if headerToken == "" || cookieToken == "" {
		return ErrMissingToken
	}

	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
		return ErrTokenMismatch
	}

	random, timestamp, gotMAC, ok := splitToken(headerToken)
	if !ok {
		return ErrTokenMismatch
	}
	if !hmac.Equal([]byte(gotMAC), []byte(s.mac(random, timestamp))) {
		return ErrTokenMismatch
	}

	data, exists := s.store.Get(headerToken)
	if !exists {
		return ErrTokenMismatch
	}

	if s.now().Sub(data.CreatedAt) > s.config.CSRF.TokenExpiry {
		s.store.Delete(headerToken)
		return ErrExpired
	}

	if data.SessionID != "" && sessionID != data.SessionID {
		return ErrTokenMismatch
	}
	if data.UserID != "" && userID != data.UserID {
		return ErrTokenMismatch
	}

	return nil
}

func (s *Service) Validate(headerToken, cookieToken, sessionID, userID string) bool {
	err := s.Check(headerToken, cookieToken, sessionID, userID)
	if err != nil && s.logger != nil {
		s.logger.Warn("CSRF validation failed",
			zap.Error(err),
			zap.String("session_id", sessionID))
	}
	return err == nil
}

// Rotate invalidates every token carrying the binding and issues a fresh one.
// Run after authentication state changes so a pre-login token stops working.
func (s *Service) Rotate(sessionID, userID string) (string, error) {
	deleted := s.store.DeleteWhere(func(d TokenData) bool {
		if sessionID != "" && d.SessionID == sessionID {
			return true
		}
		if userID != "" && d.UserID == userID {
			return true
		}
		return false
	})

	if s.logger != nil && deleted > 0 {
		s.logger.Info("CSRF tokens rotated",
			zap.String("session_id", sessionID),
			zap.Int("invalidated", deleted))
	}

	return s.Issue(sessionID, userID)
}

func (s *Service) InvalidateForUser(userID string) int {
	if userID == "" {
		return 0
	}
	return s.store.DeleteWhere(func(d TokenData) bool {
		return d.UserID == userID
	})
}

func (s *Service) InvalidateForSession(sessionID string) int {
	if sessionID == "" {
		return 0
	}
	return s.store.DeleteWhere(func(d TokenData) bool {
		return d.SessionID == sessionID
	})
}

// IsExemptExtension reports whether a request verifiably originates from a
// trusted local extension context. Extensions are outside the cross-site
// cookie-leakage threat model, so the double-submit check adds nothing there.
func (s *Service) IsExemptExtension(origin, extensionID string) bool {
	cfg := &s.config.CSRF

	if cfg.ExtensionScheme != "" && strings.HasPrefix(origin, cfg.ExtensionScheme+"://") {
		if !cfg.RestrictExtensions {
			return true
		}
		return s.isTrusted(strings.TrimPrefix(origin, cfg.ExtensionScheme+"://"))
	}

	if extensionID != "" {
		if !cfg.RestrictExtensions {
			return true
		}
		return s.isTrusted(extensionID)
	}

	return false
}

func (s *Service) isTrusted(extensionID string) bool {
	extensionID = strings.TrimSuffix(extensionID, "/")
	for _, trusted := range s.config.CSRF.TrustedExtensions {
		if extensionID == trusted {
			return true
		}
	}
	return false
}

func (s *Service) mac(random, timestamp string) string {
	h := hmac.New(sha256.New, []byte(s.config.CSRF.Secret))
	h.Write([]byte(random))
	h.Write([]byte("."))
	h.Write([]byte(timestamp))
	return hex.EncodeToString(h.Sum(nil))
}

func splitToken(token string) (random, timestamp, mac string, ok bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func (s *Service) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
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
				removed := s.store.CleanupExpired(s.config.CSRF.TokenExpiry)
				if removed > 0 && s.logger != nil {
					s.logger.Debug("CSRF sweep removed expired tokens",
						zap.Int("removed", removed))
				}
			case <-done:
				return
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started CSRF sweep worker", zap.Duration("interval", interval))
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
