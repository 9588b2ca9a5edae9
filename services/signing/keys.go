package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/browserbridge/authcore/config"
)

const devKeyBits = 2048

// LoadPrivateKey resolves the RSA signing key from config, in order of
// preference: key file, inline PEM, dev-mode generation. Returning an error
// here aborts startup; the core never runs without verification capability.
func LoadPrivateKey(cfg *config.SigningConfig) (*rsa.PrivateKey, error) {
	switch {
	case cfg.PrivateKeyFile != "":
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key file: %w", err)
		}
		return ParsePrivateKeyPEM(data)
	case cfg.PrivateKeyPEM != "":
		return ParsePrivateKeyPEM([]byte(cfg.PrivateKeyPEM))
	case cfg.GenerateDevKey:
		key, err := rsa.GenerateKey(rand.Reader, devKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate dev signing key: %w", err)
		}
		return key, nil
	default:
		return nil, errors.New("no signing key material configured")
	}
}

// ParsePrivateKeyPEM handles both PKCS1 and PKCS8 encodings; production keys
// show up in either depending on what generated them.
func ParsePrivateKeyPEM(pemKey []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("invalid PEM for RSA signing key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS1 key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 key: %w", err)
		}
		key, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("PKCS8 key is not an RSA private key")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported PEM type %q", block.Type)
	}
}

// EncodePrivateKeyPEM serializes a key in PKCS1 PEM, the shape LoadPrivateKey
// reads back.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}
