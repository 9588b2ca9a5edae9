package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the admission rules that operators tend to edit more often
// than environment variables: which paths demand a fresh token and which
// extension workers are trusted.
type Policy struct {
	SensitivePaths    []string `yaml:"sensitive_paths"`
	TrustedExtensions []string `yaml:"trusted_extensions"`
}

func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	return &policy, nil
}

// ApplyPolicy merges a policy file into the config. File entries are appended
// to whatever the environment already supplied.
func ApplyPolicy(cfg *Config, policy *Policy) {
	if policy == nil {
		return
	}
	cfg.Admission.SensitivePaths = append(cfg.Admission.SensitivePaths, policy.SensitivePaths...)
	cfg.CSRF.TrustedExtensions = append(cfg.CSRF.TrustedExtensions, policy.TrustedExtensions...)
}
