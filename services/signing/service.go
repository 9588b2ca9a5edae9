package signing

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/refreshledger"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token has expired")
	ErrTokenRevoked      = errors.New("token has been revoked")
	ErrTokenTypeMismatch = errors.New("token type mismatch")
	ErrTokenNotFound     = errors.New("refresh token not found in ledger")
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Payload is what a caller asks to have embedded in a token pair. Binding
// values (IP, fingerprint) are captured at issuance and checked by the
// admission gate, never rewritten later.
type Payload struct {
	UserID      string
	SessionID   string
	Email       string
	Roles       []string
	ExtensionID string
	IPAddress   string
	Fingerprint string
}

type Claims struct {
	UserID      string    `json:"uid"`
	SessionID   string    `json:"sid"`
	Email       string    `json:"email,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	ExtensionID string    `json:"ext,omitempty"`
	TokenType   TokenType `json:"typ"`
	IPAddress   string    `json:"ip,omitempty"`
	Fingerprint string    `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type RevocationService interface {
	Revoke(jti string, expiresAt time.Time) error
	IsRevoked(jti string) (bool, error)
}

// Ledger is the live refresh-token table the service records issuances in and
// consumes entries from during rotation. An external shared store can stand
// in as long as CheckAndDelete stays a single atomic operation.
type Ledger interface {
	Record(refreshJTI string, entry refreshledger.Entry)
	Get(refreshJTI string) (refreshledger.Entry, error)
	Touch(refreshJTI string)
	CheckAndDelete(refreshJTI string) (refreshledger.Entry, error)
	RemoveMatching(filter refreshledger.Filter) map[string]refreshledger.Entry
	JTIsMatching(filter refreshledger.Filter) []string
}

type Service struct {
	config            *config.Config
	key               *rsa.PrivateKey
	ledger            Ledger
	logger            *logging.Service
	revocationService RevocationService

	// now is swappable so expiry behavior is testable against a fixed clock.
	now func() time.Time
}

func NewService(cfg *config.Config, ledger Ledger, logger *logging.Service) (*Service, error) {
	key, err := LoadPrivateKey(&cfg.Signing)
	if err != nil {
		if logger != nil {
			logger.Error("refusing to start without signing key material", zap.Error(err))
		}
		return nil, err
	}

	if logger != nil {
		logger.Info("initializing signing service",
			zap.String("issuer", cfg.Signing.Issuer),
			zap.String("audience", cfg.Signing.Audience),
			zap.Duration("access_expiry", cfg.Signing.AccessExpiry),
			zap.Duration("refresh_expiry", cfg.Signing.RefreshExpiry))
	}

	return &Service{
		config: cfg,
		key:    key,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Service) SetRevocationService(revocationService RevocationService) {
	s.revocationService = revocationService
}

// PublicKey exposes the verification half; any process holding it can verify
// tokens without being able to forge them.
func (s *Service) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// IssuePair mints an access/refresh token pair sharing identity claims but
// carrying distinct JTIs, lifetimes, and type discriminants, and records the
// family link in the ledger.
func (s *Service) IssuePair(payload Payload) (*TokenPair, error) {
	now := s.now()
	accessJTI := uuid.New().String()
	refreshJTI := uuid.New().String()

	accessExpiry := now.Add(s.config.Signing.AccessExpiry)
	refreshExpiry := now.Add(s.config.Signing.RefreshExpiry)

	accessToken, err := s.sign(payload, TokenTypeAccess, accessJTI, now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.sign(payload, TokenTypeRefresh, refreshJTI, now, refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	s.ledger.Record(refreshJTI, refreshledger.Entry{
		UserID:    payload.UserID,
		SessionID: payload.SessionID,
		AccessJTI: accessJTI,
		CreatedAt: now,
		LastUsed:  now,
	})

	if s.logger != nil {
		s.logger.Info("token pair issued",
			zap.String("user_id", payload.UserID),
			zap.String("session_id", payload.SessionID),
			zap.String("access_jti", accessJTI),
			zap.String("refresh_jti", refreshJTI))
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

func (s *Service) sign(payload Payload, tokenType TokenType, jti string, now, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserID:      payload.UserID,
		SessionID:   payload.SessionID,
		Email:       payload.Email,
		Roles:       payload.Roles,
		ExtensionID: payload.ExtensionID,
		TokenType:   tokenType,
		IPAddress:   payload.IPAddress,
		Fingerprint: payload.Fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.config.Signing.Issuer,
			Subject:   payload.UserID,
			Audience:  []string{s.config.Signing.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.key)
}

// Verify checks signature, issuer, audience, expiry, type discriminant, and
// blacklist state. For refresh tokens it additionally requires a live ledger
// entry; a missing entry is the replay/reuse signal.
func (s *Service) Verify(tokenString string, expectedType TokenType) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.config.Signing.Issuer),
		jwt.WithAudience(s.config.Signing.Audience),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("token verification failed", zap.Error(err))
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != expectedType {
		if s.logger != nil {
			s.logger.Warn("token type mismatch",
				zap.String("expected", string(expectedType)),
				zap.String("got", string(claims.TokenType)))
		}
		return nil, ErrTokenTypeMismatch
	}

	if s.revocationService != nil {
		revoked, err := s.revocationService.IsRevoked(claims.ID)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("failed to check token revocation status", zap.Error(err))
			}
		} else if revoked {
			return nil, ErrTokenRevoked
		}
	}

	if expectedType == TokenTypeRefresh {
		if _, err := s.ledger.Get(claims.ID); err != nil {
			if s.logger != nil {
				s.logger.Warn("refresh token has no ledger entry, replay suspected",
					zap.String("refresh_jti", claims.ID),
					zap.String("user_id", claims.UserID))
			}
			return nil, ErrTokenNotFound
		}
	}

	return claims, nil
}

// Decode parses and signature-checks a token without consulting revocation
// state or the ledger. Callers use it to identify the principal behind a
// token that failed full verification, e.g. to revoke a replayed family.
func (s *Service) Decode(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.config.Signing.Issuer),
		jwt.WithAudience(s.config.Signing.Audience),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Rotate enforces single use: it claims the ledger entry atomically,
// blacklists the spent family, and only then issues the replacement pair.
// A second rotation of the same refresh token finds no entry and fails.
func (s *Service) Rotate(refreshToken string, payload Payload) (*TokenPair, error) {
	claims, err := s.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	// Stamp the use before consuming so the entry handed to the family
	// blacklist records when the rotation happened.
	s.ledger.Touch(claims.ID)

	entry, err := s.ledger.CheckAndDelete(claims.ID)
	if err != nil {
		return nil, ErrTokenNotFound
	}

	s.blacklistFamily(claims.ID, entry)

	pair, err := s.IssuePair(payload)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("refresh token rotated",
			zap.String("user_id", entry.UserID),
			zap.String("session_id", entry.SessionID),
			zap.String("old_refresh_jti", claims.ID))
	}

	return pair, nil
}

// ActiveFamilies reports the refresh JTIs currently live for the filter
// without consuming them.
func (s *Service) ActiveFamilies(filter refreshledger.Filter) []string {
	return s.ledger.JTIsMatching(filter)
}

// RevokeAll blacklists every live token family matching the filter and
// removes the ledger entries. Used for logout-all, password change, and for
// revoking a user's sessions after a detected replay.
func (s *Service) RevokeAll(filter refreshledger.Filter) error {
	removed := s.ledger.RemoveMatching(filter)

	for refreshJTI, entry := range removed {
		s.blacklistFamily(refreshJTI, entry)
	}

	if s.logger != nil {
		s.logger.Info("revoked all matching token families",
			zap.String("user_id", filter.UserID),
			zap.String("session_id", filter.SessionID),
			zap.Int("families", len(removed)))
	}

	return nil
}

func (s *Service) blacklistFamily(refreshJTI string, entry refreshledger.Entry) {
	if s.revocationService == nil {
		if s.logger != nil {
			s.logger.Warn("revocation requested but revocation service not available",
				zap.String("refresh_jti", refreshJTI))
		}
		return
	}

	refreshExpiry := entry.CreatedAt.Add(s.config.Signing.RefreshExpiry)
	accessExpiry := entry.CreatedAt.Add(s.config.Signing.AccessExpiry)

	if err := s.revocationService.Revoke(refreshJTI, refreshExpiry); err != nil && s.logger != nil {
		s.logger.Error("failed to blacklist refresh token",
			zap.String("refresh_jti", refreshJTI),
			zap.Error(err))
	}
	if err := s.revocationService.Revoke(entry.AccessJTI, accessExpiry); err != nil && s.logger != nil {
		s.logger.Error("failed to blacklist access token",
			zap.String("access_jti", entry.AccessJTI),
			zap.Error(err))
	}
}
