package stepup

import (
	"testing"
	"time"

	"github.com/browserbridge/authcore/testutils"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Enroll(t *testing.T) {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &Enrollment{}, &UsedCode{})

	t.Run("disabled", func(t *testing.T) {
		cfg.StepUp.Enabled = false
		service := NewService(cfg, db, nil)

		enrollment, err := service.Enroll("u1", "u1@example.com")
		assert.Nil(t, enrollment)
		testutils.AssertErrorType(t, ErrStepUpDisabled, err)
	})

	t.Run("successful enrollment", func(t *testing.T) {
		cfg.StepUp.Enabled = true
		service := NewService(cfg, db, nil)

		enrollment, err := service.Enroll("u1", "u1@example.com")
		require.NoError(t, err)
		assert.Equal(t, "u1", enrollment.UserID)
		assert.NotEmpty(t, enrollment.Secret)
		assert.False(t, enrollment.Enabled)
	})

	t.Run("duplicate enrollment", func(t *testing.T) {
		cfg.StepUp.Enabled = true
		service := NewService(cfg, db, nil)

		_, err := service.Enroll("u1", "u1@example.com")
		testutils.AssertErrorType(t, ErrAlreadyEnrolled, err)
	})
}

func TestService_Activate(t *testing.T) {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &Enrollment{}, &UsedCode{})
	service := NewService(cfg, db, nil)

	enrollment, err := service.Enroll("u1", "u1@example.com")
	require.NoError(t, err)

	t.Run("invalid code", func(t *testing.T) {
		err := service.Activate("u1", "000000")
		testutils.AssertErrorType(t, ErrInvalidCode, err)
		assert.False(t, service.IsEnrolled("u1"))
	})

	t.Run("valid code activates", func(t *testing.T) {
		code, err := totp.GenerateCode(enrollment.Secret, time.Now())
		require.NoError(t, err)

		require.NoError(t, service.Activate("u1", code))
		assert.True(t, service.IsEnrolled("u1"))
	})

	t.Run("unknown user", func(t *testing.T) {
		err := service.Activate("nobody", "123456")
		testutils.AssertErrorType(t, ErrNotEnrolled, err)
	})
}

func TestService_Verify(t *testing.T) {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &Enrollment{}, &UsedCode{})
	service := NewService(cfg, db, nil)

	enrollment, err := service.Enroll("u1", "u1@example.com")
	require.NoError(t, err)

	activation, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, service.Activate("u1", activation))

	t.Run("invalid code", func(t *testing.T) {
		err := service.Verify("u1", "000000")
		testutils.AssertErrorType(t, ErrInvalidCode, err)
	})

	t.Run("valid code accepted once", func(t *testing.T) {
		// a different time step so the activation code is not reused
		code, err := totp.GenerateCode(enrollment.Secret, time.Now())
		require.NoError(t, err)
		if code == activation {
			t.Skip("same TOTP period as activation code")
		}

		require.NoError(t, service.Verify("u1", code))

		err = service.Verify("u1", code)
		testutils.AssertErrorType(t, ErrCodeAlreadyUsed, err)
	})

	t.Run("inactive enrollment", func(t *testing.T) {
		_, err := service.Enroll("u2", "u2@example.com")
		require.NoError(t, err)

		err = service.Verify("u2", "123456")
		testutils.AssertErrorType(t, ErrNotEnrolled, err)
	})
}

func TestService_Deactivate(t *testing.T) {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &Enrollment{}, &UsedCode{})
	service := NewService(cfg, db, nil)

	_, err := service.Enroll("u1", "u1@example.com")
	require.NoError(t, err)

	require.NoError(t, service.Deactivate("u1"))
	assert.False(t, service.IsEnrolled("u1"))

	err = service.Deactivate("u1")
	testutils.AssertErrorType(t, ErrNotEnrolled, err)
}

func TestService_CleanupUsedCodes(t *testing.T) {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &Enrollment{}, &UsedCode{})
	service := NewService(cfg, db, nil)

	old := &UsedCode{UserID: "u1", Code: "111111", UsedAt: time.Now().Add(-5 * time.Minute).Unix()}
	recent := &UsedCode{UserID: "u1", Code: "222222", UsedAt: time.Now().Unix()}
	require.NoError(t, db.Create(old).Error)
	require.NoError(t, db.Create(recent).Error)

	removed, err := service.CleanupUsedCodes()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var remaining int64
	require.NoError(t, db.Model(&UsedCode{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

func TestService_ProvisioningURI(t *testing.T) {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &Enrollment{}, &UsedCode{})
	service := NewService(cfg, db, nil)

	enrollment, err := service.Enroll("u1", "u1@example.com")
	require.NoError(t, err)

	uri := service.ProvisioningURI(enrollment, "u1@example.com")
	assert.Contains(t, uri, "otpauth://totp/")
	assert.Contains(t, uri, enrollment.Secret)
	assert.Contains(t, uri, cfg.StepUp.Issuer)
}
