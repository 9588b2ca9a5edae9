package testutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"time"

	"github.com/browserbridge/authcore/config"
	"golang.org/x/crypto/bcrypt"
)

var (
	keyOnce sync.Once
	keyPEM  string
)

// TestSigningKeyPEM returns a process-wide 2048-bit RSA key in PKCS1 PEM
// form. Generated once because key generation dominates test runtime.
func TestSigningKeyPEM() string {
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		keyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	return keyPEM
}

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "authcore-test",
			URL:  "http://localhost:8080",
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "console",
			Output: "stdout",
		},
		Auth: config.AuthConfig{
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireNumber:  true,
			RequireSpecial: false,
			BcryptCost:     bcrypt.MinCost,
		},
		Signing: config.SigningConfig{
			Issuer:        "authcore-test",
			Audience:      "authcore-test",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
			PrivateKeyPEM: TestSigningKeyPEM(),
			SweepInterval: 10 * time.Minute,
		},
		CSRF: config.CSRFConfig{
			Enabled:         true,
			Secret:          "f3a9c1d8e2b74460a5918372c4d6f0e1",
			TokenExpiry:     time.Hour,
			HeaderName:      "X-CSRF-Token",
			CookieName:      "csrf-token",
			CookiePath:      "/",
			CookieSameSite:  "lax",
			SweepInterval:   5 * time.Minute,
			ExtensionScheme: "chrome-extension",
			ExtensionHeader: "X-Extension-Id",
		},
		Admission: config.AdmissionConfig{
			BearerHeader:         "Authorization",
			SensitiveTokenMaxAge: 5 * time.Minute,
			AnomalyThreshold:     75,
		},
		Audit: config.AuditConfig{
			Enabled:        true,
			BufferSize:     64,
			DropIfFull:     true,
			AlertRateEvery: 5 * time.Minute,
		},
		StepUp: config.StepUpConfig{
			Enabled: true,
			Issuer:  "authcore-test",
		},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         ":memory:",
			AutoMigrate: true,
		},
	}
}

var TestPasswords = struct {
	Valid       string
	TooShort    string
	NoUpper     string
	NoLower     string
	NoNumber    string
	WithSpecial string
}{
	Valid:       "Password123",
	TooShort:    "Pass1",
	NoUpper:     "password123",
	NoLower:     "PASSWORD123",
	NoNumber:    "Password",
	WithSpecial: "Password123!",
}

var TestUsers = struct {
	ValidUser struct {
		Username string
		Email    string
		Password string
	}
	InvalidEmail struct {
		Username string
		Email    string
		Password string
	}
}{
	ValidUser: struct {
		Username string
		Email    string
		Password string
	}{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "Password123",
	},
	InvalidEmail: struct {
		Username string
		Email    string
		Password string
	}{
		Username: "testuser2",
		Email:    "invalid-email",
		Password: "Password123",
	},
}
