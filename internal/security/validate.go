package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MinJWTSecretLength is the shortest signing secret accepted at startup.
const MinJWTSecretLength = 32

// MinPasswordLength is the shortest password accepted for user accounts.
const MinPasswordLength = 12

var (
	ErrSecretTooShort   = errors.New("jwt secret is too short")
	ErrSecretWeak       = errors.New("jwt secret is a known weak value")
	ErrSecretLowEntropy = errors.New("jwt secret has too few distinct characters")
	ErrPasswordWeak     = errors.New("password does not meet complexity requirements")
	ErrInvalidAPIKey    = errors.New("invalid api key")
)

// weakSecrets is matched case-insensitively, both exactly and as a prefix of
// padded variants such as "changeme-changeme-changeme-changeme".
var weakSecrets = []string{
	"secret",
	"jwt-secret",
	"jwt_secret",
	"jwtsecret",
	"changeme",
	"change-me",
	"change_me",
	"password",
	"your-secret-key",
	"your_secret_key",
	"supersecret",
	"super-secret-key",
	"mysecret",
	"default",
	"development",
	"test",
	"admin",
	"12345678",
	"qwerty",
}

// ValidateJWTSecret rejects signing secrets that are short, listed as weak, or
// built from a handful of repeated characters.
func ValidateJWTSecret(secret string) error {
	s := strings.TrimSpace(secret)
	if len(s) < MinJWTSecretLength {
		return fmt.Errorf("%w: got %d characters, need at least %d", ErrSecretTooShort, len(s), MinJWTSecretLength)
	}

	lower := strings.ToLower(s)
	for _, w := range weakSecrets {
		if lower == w || strings.Trim(strings.ReplaceAll(lower, w, ""), "-_ .0123456789") == "" {
			return fmt.Errorf("%w: derived from %q", ErrSecretWeak, w)
		}
	}

	distinct := make(map[rune]struct{})
	for _, r := range s {
		distinct[r] = struct{}{}
	}
	if len(distinct) < 8 {
		return fmt.Errorf("%w: %d distinct characters", ErrSecretLowEntropy, len(distinct))
	}
	return nil
}

// ValidatePassword checks length and character-class rules and reports every
// failed rule at once.
func ValidatePassword(password string) error {
	var (
		upper, lower, digit, symbol bool
		problems                    []error
	)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	if len([]rune(password)) < MinPasswordLength {
		problems = append(problems, fmt.Errorf("must be at least %d characters", MinPasswordLength))
	}
	if !upper {
		problems = append(problems, errors.New("must contain an uppercase letter"))
	}
	if !lower {
		problems = append(problems, errors.New("must contain a lowercase letter"))
	}
	if !digit {
		problems = append(problems, errors.New("must contain a digit"))
	}
	if !symbol {
		problems = append(problems, errors.New("must contain a symbol"))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPasswordWeak, errors.Join(problems...))
}

// ValidateOpenAIKey performs a shape check only; it never calls the API.
func ValidateOpenAIKey(key string) error {
	k := strings.TrimSpace(key)
	if !strings.HasPrefix(k, "sk-") {
		return fmt.Errorf("%w: expected sk- prefix", ErrInvalidAPIKey)
	}
	if len(k) < 40 {
		return fmt.Errorf("%w: key is too short", ErrInvalidAPIKey)
	}
	return nil
}
