package stepup

import (
	"errors"
	"fmt"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrStepUpDisabled  = errors.New("step-up verification is disabled")
	ErrInvalidCode     = errors.New("invalid step-up code")
	ErrAlreadyEnrolled = errors.New("step-up enrollment already exists for user")
	ErrNotEnrolled     = errors.New("no active step-up enrollment for user")
	ErrCodeAlreadyUsed = errors.New("step-up code has already been used")
)

// usedCodeWindow covers one TOTP period plus the validator's skew allowance.
const usedCodeWindow = 90 * time.Second

// Service verifies one-time codes when the admission gate demands additional
// authentication. Enrollments and used codes are persisted so a restart does
// not reopen the replay window.
type Service struct {
	config *config.Config
	db     *gorm.DB
	logger *logging.Service
}

func NewService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		db:     db,
		logger: logger,
	}
}

// Enroll generates a fresh secret for the user. The enrollment stays inactive
// until Activate confirms the user can produce a valid code.
func (s *Service) Enroll(userID string, accountName string) (*Enrollment, error) {
	if !s.config.StepUp.Enabled {
		return nil, ErrStepUpDisabled
	}

	var existing Enrollment
	if err := s.db.Where("user_id = ?", userID).First(&existing).Error; err == nil {
		return nil, ErrAlreadyEnrolled
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing enrollment: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.StepUp.Issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate step-up secret: %w", err)
	}

	enrollment := &Enrollment{
		UserID: userID,
		Secret: key.Secret(),
	}
	if err := s.db.Create(enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to store enrollment: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("step-up enrollment created",
			zap.String("user_id", userID))
	}

	return enrollment, nil
}

// Activate enables a pending enrollment once the user proves possession of
// the secret.
func (s *Service) Activate(userID string, code string) error {
	if !s.config.StepUp.Enabled {
		return ErrStepUpDisabled
	}

	enrollment, err := s.getEnrollment(userID)
	if err != nil {
		return err
	}

	if !totp.Validate(code, enrollment.Secret) {
		return ErrInvalidCode
	}

	enrollment.Enabled = true
	if err := s.db.Save(enrollment).Error; err != nil {
		return fmt.Errorf("failed to activate enrollment: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("step-up enrollment activated",
			zap.String("user_id", userID))
	}
	return nil
}

// Verify checks a code against the user's active enrollment. A code accepted
// once is rejected on any further attempt inside its validity window.
func (s *Service) Verify(userID string, code string) error {
	if !s.config.StepUp.Enabled {
		return ErrStepUpDisabled
	}

	enrollment, err := s.getEnrollment(userID)
	if err != nil {
		return err
	}
	if !enrollment.Enabled {
		return ErrNotEnrolled
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		cutoff := time.Now().Add(-usedCodeWindow).Unix()

		var existing UsedCode
		if err := tx.Where("user_id = ? AND code = ? AND used_at > ?", userID, code, cutoff).First(&existing).Error; err == nil {
			if s.logger != nil {
				s.logger.Warn("step-up code replay attempt",
					zap.String("user_id", userID))
			}
			return ErrCodeAlreadyUsed
		}

		if !totp.Validate(code, enrollment.Secret) {
			return ErrInvalidCode
		}

		used := &UsedCode{
			UserID: userID,
			Code:   code,
			UsedAt: time.Now().Unix(),
		}
		if err := tx.Create(used).Error; err != nil {
			return fmt.Errorf("failed to record used code: %w", err)
		}
		return nil
	})
}

// Deactivate removes the user's enrollment and its used-code history.
func (s *Service) Deactivate(userID string) error {
	if !s.config.StepUp.Enabled {
		return ErrStepUpDisabled
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ?", userID).Delete(&Enrollment{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove enrollment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotEnrolled
		}

		if err := tx.Where("user_id = ?", userID).Delete(&UsedCode{}).Error; err != nil {
			return fmt.Errorf("failed to clean up used codes: %w", err)
		}
		return nil
	})
}

func (s *Service) IsEnrolled(userID string) bool {
	if !s.config.StepUp.Enabled {
		return false
	}
	enrollment, err := s.getEnrollment(userID)
	if err != nil {
		return false
	}
	return enrollment.Enabled
}

// ProvisioningURI renders the otpauth URI an authenticator app imports.
func (s *Service) ProvisioningURI(enrollment *Enrollment, accountName string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		s.config.StepUp.Issuer, accountName, enrollment.Secret, s.config.StepUp.Issuer)
}

// CleanupUsedCodes removes replay-guard rows past the validity window.
func (s *Service) CleanupUsedCodes() (int64, error) {
	if !s.config.StepUp.Enabled {
		return 0, ErrStepUpDisabled
	}

	cutoff := time.Now().Add(-usedCodeWindow).Unix()
	result := s.db.Where("used_at < ?", cutoff).Delete(&UsedCode{})
	if result.Error != nil {
		return 0, result.Error
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Debug("cleaned up expired step-up codes",
			zap.Int64("removed", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *Service) getEnrollment(userID string) (*Enrollment, error) {
	var enrollment Enrollment
	if err := s.db.Where("user_id = ?", userID).First(&enrollment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}
	return &enrollment, nil
}
