package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSkew       = 2
	totpSecretSize = 20 // 160 bits
)

// TOTPVerifier generates and checks RFC 6238 codes: SHA1, 6 digits, 30s
// steps, accepting two steps of drift either way and nothing more.
type TOTPVerifier struct {
	issuer string
}

func NewTOTPVerifier(issuer string) *TOTPVerifier {
	if strings.TrimSpace(issuer) == "" {
		issuer = "GAMINGGLOW"
	}
	return &TOTPVerifier{issuer: issuer}
}

// Generate returns a fresh base32 secret and its otpauth:// provisioning URI.
func (v *TOTPVerifier) Generate(accountName string) (string, string, error) {
	if strings.TrimSpace(accountName) == "" {
		return "", "", fmt.Errorf("totp account name cannot be empty")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  totpSecretSize,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate reports whether code matches secret at the given instant. Any
// malformed input is simply invalid.
func (v *TOTPVerifier) Validate(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}

	valid, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}
