package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/csrfguard"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/refreshledger"
	"github.com/browserbridge/authcore/services/signing"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrUserExists            = errors.New("user already exists")
	ErrUserNotFound          = errors.New("user not found")
	ErrPasswordHashingFailed = errors.New("failed to hash password")
)

// Service orchestrates session lifecycle transitions across the signing
// service, the CSRF guard and the account store. It owns no token state of
// its own; every credential consequence flows through its collaborators.
type Service struct {
	config     *config.Config
	db         *gorm.DB
	signing    *signing.Service
	csrf       *csrfguard.Service
	dispatcher *audit.Dispatcher
	logger     *logging.Service
}

func NewService(cfg *config.Config, db *gorm.DB, signingService *signing.Service, csrf *csrfguard.Service, dispatcher *audit.Dispatcher, logger *logging.Service) *Service {
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		config:     cfg,
		db:         db,
		signing:    signingService,
		csrf:       csrf,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *Service) ValidatePassword(password string) error {
	if len(password) < s.config.Auth.MinLength {
		return fmt.Errorf("password must be at least %d characters", s.config.Auth.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	var missing []string
	if s.config.Auth.RequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if s.config.Auth.RequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if s.config.Auth.RequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if s.config.Auth.RequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.Auth.BcryptCost)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("password hashing failed", zap.Error(err))
		}
		return "", ErrPasswordHashingFailed
	}
	return string(hash), nil
}

func (s *Service) VerifyPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) Register(username, email, password string) (*User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	var existing User
	if err := s.db.Where("username = ? OR email = ?", username, email).First(&existing).Error; err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	user := &User{
		Username: username,
		Email:    email,
		Password: hash,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("user registered",
			zap.String("user_id", user.SubjectID()),
			zap.String("username", username))
	}
	return user, nil
}

func (s *Service) Authenticate(usernameOrEmail, password string) (*User, error) {
	var user User
	if err := s.db.Where("username = ? OR email = ?", usernameOrEmail, usernameOrEmail).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := s.VerifyPassword(user.Password, password); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login checks credentials, mints a fresh session with a new token pair, and
// rotates the CSRF token so nothing issued pre-authentication survives.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string, client ClientInfo) (*LoginResult, error) {
	user, err := s.Authenticate(usernameOrEmail, password)
	if err != nil {
		s.emit(ctx, audit.Event{
			Type:     audit.EventLogin,
			Severity: audit.SeverityWarning,
			IP:       client.IP,
			Reason:   "invalid_credentials",
		})
		return nil, err
	}

	sessionID := uuid.New().String()

	pair, err := s.signing.IssuePair(signing.Payload{
		UserID:      user.SubjectID(),
		SessionID:   sessionID,
		Email:       user.Email,
		Roles:       user.RoleList(),
		ExtensionID: client.ExtensionID,
		IPAddress:   client.IP,
		Fingerprint: client.Fingerprint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token pair: %w", err)
	}

	var csrfToken string
	if s.csrf != nil {
		csrfToken, err = s.csrf.Rotate(sessionID, user.SubjectID())
		if err != nil && s.logger != nil {
			s.logger.Error("failed to rotate CSRF token on login",
				zap.Error(err),
				zap.String("user_id", user.SubjectID()))
		}
	}

	s.emit(ctx, audit.Event{
		Type:      audit.EventLogin,
		UserID:    user.SubjectID(),
		SessionID: sessionID,
		IP:        client.IP,
	})

	return &LoginResult{
		User:      user,
		SessionID: sessionID,
		Tokens:    pair,
		CSRFToken: csrfToken,
	}, nil
}

// Refresh rotates a refresh token, carrying the session identity forward but
// rebinding it to the current client context. A refresh token that once
// existed but is absent from the ledger is a replay signal: every session of
// that user is revoked, not just the one request rejected.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*signing.TokenPair, error) {
	claims, err := s.signing.Decode(refreshToken)
	if err != nil {
		return nil, err
	}

	pair, err := s.signing.Rotate(refreshToken, signing.Payload{
		UserID:      claims.UserID,
		SessionID:   claims.SessionID,
		Email:       claims.Email,
		Roles:       claims.Roles,
		ExtensionID: claims.ExtensionID,
		IPAddress:   client.IP,
		Fingerprint: client.Fingerprint,
	})
	if errors.Is(err, signing.ErrTokenNotFound) {
		s.handleReplay(ctx, claims, client)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	return pair, nil
}

func (s *Service) handleReplay(ctx context.Context, claims *signing.Claims, client ClientInfo) {
	families := s.signing.ActiveFamilies(refreshledger.Filter{UserID: claims.UserID})

	if s.logger != nil {
		s.logger.Warn("refresh token replay detected, revoking all user sessions",
			zap.String("user_id", claims.UserID),
			zap.String("replayed_jti", claims.ID),
			zap.String("ip", client.IP),
			zap.Int("live_families", len(families)))
	}

	if err := s.signing.RevokeAll(refreshledger.Filter{UserID: claims.UserID}); err != nil && s.logger != nil {
		s.logger.Error("replay response revocation failed",
			zap.Error(err),
			zap.String("user_id", claims.UserID))
	}
	if s.csrf != nil {
		s.csrf.InvalidateForUser(claims.UserID)
	}

	s.emit(ctx, audit.Event{
		Type:      audit.EventTokenReplay,
		Severity:  audit.SeverityAlert,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		IP:        client.IP,
		Reason:    "replayed refresh token, all user sessions revoked",
		Metadata:  map[string]string{"revoked_families": strconv.Itoa(len(families))},
	})
}

// Logout tears down one session: its token families and its CSRF tokens.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	if err := s.signing.RevokeAll(refreshledger.Filter{SessionID: sessionID}); err != nil {
		return err
	}
	if s.csrf != nil {
		s.csrf.InvalidateForSession(sessionID)
	}

	s.emit(ctx, audit.Event{
		Type:      audit.EventLogout,
		UserID:    userID,
		SessionID: sessionID,
	})
	return nil
}

// LogoutAll tears down every session the user holds.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.signing.RevokeAll(refreshledger.Filter{UserID: userID}); err != nil {
		return err
	}
	if s.csrf != nil {
		s.csrf.InvalidateForUser(userID)
	}

	s.emit(ctx, audit.Event{
		Type:   audit.EventLogoutAll,
		UserID: userID,
	})
	return nil
}

// ChangePassword updates the stored hash and revokes every existing session;
// credentials minted under the old password must not outlive it.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	var user User
	if err := s.db.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	if err := s.VerifyPassword(user.Password, currentPassword); err != nil {
		return err
	}

	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}

	user.Password = hash
	if err := s.db.Save(&user).Error; err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.LogoutAll(ctx, userID); err != nil {
		return err
	}

	s.emit(ctx, audit.Event{
		Type:   audit.EventSessionRevoked,
		UserID: userID,
		Reason: "password changed",
	})
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	s.dispatcher.Emit(ctx, event)
}
