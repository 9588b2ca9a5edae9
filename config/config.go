package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Log       LogConfig       `envPrefix:"LOG_"`
	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Signing   SigningConfig   `envPrefix:"SIGNING_"`
	CSRF      CSRFConfig      `envPrefix:"CSRF_"`
	Admission AdmissionConfig `envPrefix:"ADMISSION_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	StepUp    StepUpConfig    `envPrefix:"STEPUP_"`
	Mail      MailConfig      `envPrefix:"MAIL_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"authcore"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"authcore.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type AuthConfig struct {
	MinLength      int  `env:"MIN_LENGTH" envDefault:"8"`
	RequireUpper   bool `env:"REQUIRE_UPPER" envDefault:"true"`
	RequireLower   bool `env:"REQUIRE_LOWER" envDefault:"true"`
	RequireNumber  bool `env:"REQUIRE_NUMBER" envDefault:"true"`
	RequireSpecial bool `env:"REQUIRE_SPECIAL" envDefault:"false"`
	BcryptCost     int  `env:"BCRYPT_COST" envDefault:"10"`
}

type SigningConfig struct {
	Issuer         string        `env:"ISSUER" envDefault:"authcore"`
	Audience       string        `env:"AUDIENCE" envDefault:"authcore"`
	AccessExpiry   time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
	RefreshExpiry  time.Duration `env:"REFRESH_EXPIRY" envDefault:"168h"`
	PrivateKeyFile string        `env:"PRIVATE_KEY_FILE"`
	PrivateKeyPEM  string        `env:"PRIVATE_KEY_PEM"`
	GenerateDevKey bool          `env:"GENERATE_DEV_KEY" envDefault:"false"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
}

type CSRFConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	Secret         string        `env:"SECRET"`
	TokenExpiry    time.Duration `env:"TOKEN_EXPIRY" envDefault:"1h"`
	HeaderName     string        `env:"HEADER_NAME" envDefault:"X-CSRF-Token"`
	CookieName     string        `env:"COOKIE_NAME" envDefault:"csrf-token"`
	CookiePath     string        `env:"COOKIE_PATH" envDefault:"/"`
	CookieSecure   bool          `env:"COOKIE_SECURE" envDefault:"false"`
	CookieHTTPOnly bool          `env:"COOKIE_HTTP_ONLY" envDefault:"false"`
	CookieSameSite string        `env:"COOKIE_SAME_SITE" envDefault:"lax"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	// Requests arriving via the extension origin scheme, or carrying a known
	// extension identifier, bypass the double-submit check entirely.
	ExtensionScheme    string   `env:"EXTENSION_SCHEME" envDefault:"chrome-extension"`
	ExtensionHeader    string   `env:"EXTENSION_HEADER" envDefault:"X-Extension-Id"`
	TrustedExtensions  []string `env:"TRUSTED_EXTENSIONS"`
	RestrictExtensions bool     `env:"RESTRICT_EXTENSIONS" envDefault:"false"`
}

type AdmissionConfig struct {
	BearerHeader         string        `env:"BEARER_HEADER" envDefault:"Authorization"`
	IPBinding            bool          `env:"IP_BINDING" envDefault:"false"`
	DeviceBinding        bool          `env:"DEVICE_BINDING" envDefault:"false"`
	SensitivePaths       []string      `env:"SENSITIVE_PATHS"`
	SensitiveTokenMaxAge time.Duration `env:"SENSITIVE_TOKEN_MAX_AGE" envDefault:"5m"`
	// AnomalyThreshold is exclusive: a request is flagged or blocked only
	// when its anomaly score exceeds this value.
	AnomalyThreshold     int           `env:"ANOMALY_THRESHOLD" envDefault:"75"`
	PolicyFile           string        `env:"POLICY_FILE"`
}

type AuditConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	BufferSize     int           `env:"BUFFER_SIZE" envDefault:"256"`
	DropIfFull     bool          `env:"DROP_IF_FULL" envDefault:"true"`
	AlertEmail     string        `env:"ALERT_EMAIL"`
	AlertRateEvery time.Duration `env:"ALERT_RATE_EVERY" envDefault:"5m"`
}

type StepUpConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Issuer  string `env:"ISSUER" envDefault:"authcore"`
}

type MailConfig struct {
	Host        string `env:"HOST" envDefault:"localhost"`
	Port        int    `env:"PORT" envDefault:"587"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
	FromAddress string `env:"FROM_ADDRESS" envDefault:"security@localhost"`
	FromName    string `env:"FROM_NAME" envDefault:"authcore security"`
	Encryption  string `env:"ENCRYPTION" envDefault:"starttls"`
}

func LoadConfig(cfg *Config) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	return Validate(cfg)
}

func Validate(cfg *Config) error {
	if err := validateSigningConfig(&cfg.Signing); err != nil {
		return err
	}
	if err := validateCSRFConfig(&cfg.CSRF); err != nil {
		return err
	}
	return validateAdmissionConfig(&cfg.Admission)
}

// validateSigningConfig enforces the one startup-fatal condition: the core
// must never run without signing key material.
func validateSigningConfig(cfg *SigningConfig) error {
	if cfg.PrivateKeyFile == "" && cfg.PrivateKeyPEM == "" && !cfg.GenerateDevKey {
		return errors.New("signing key material is required: set SIGNING_PRIVATE_KEY_FILE, SIGNING_PRIVATE_KEY_PEM, or SIGNING_GENERATE_DEV_KEY")
	}
	if cfg.AccessExpiry <= 0 {
		return errors.New("signing access expiry must be positive")
	}
	if cfg.RefreshExpiry <= cfg.AccessExpiry {
		return errors.New("signing refresh expiry must exceed access expiry")
	}
	if cfg.Issuer == "" {
		return errors.New("signing issuer must not be empty")
	}
	return nil
}

var weakSecretPatterns = []string{"password", "secret", "test", "example", "default", "change"}

func validateCSRFConfig(cfg *CSRFConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Secret) < 32 {
		return errors.New("CSRF secret must be at least 32 characters long")
	}
	lower := strings.ToLower(cfg.Secret)
	for _, pattern := range weakSecretPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("CSRF secret contains weak patterns (%q)", pattern)
		}
	}
	if cfg.TokenExpiry <= 0 {
		return errors.New("CSRF token expiry must be positive")
	}
	return nil
}

func validateAdmissionConfig(cfg *AdmissionConfig) error {
	if cfg.SensitiveTokenMaxAge <= 0 {
		return errors.New("sensitive token max age must be positive")
	}
	if cfg.AnomalyThreshold < 0 || cfg.AnomalyThreshold > 100 {
		return errors.New("anomaly threshold must be between 0 and 100")
	}
	return nil
}
