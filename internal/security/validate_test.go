package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr error
	}{
		{"empty", "", ErrSecretTooShort},
		{"short", "abc123", ErrSecretTooShort},
		{"denylisted exact padded", "changeme-changeme-changeme-changeme", ErrSecretWeak},
		{"denylisted case-insensitive", "Secret-SECRET-secret-Secret-SECRET", ErrSecretWeak},
		{"repeated characters", strings.Repeat("ab", 20), ErrSecretLowEntropy},
		{"strong", "k9F2#xQv7Lm!pR4tZ8wB1nY6cH3dJ0sE", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJWTSecret(tt.secret)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidatePassword(t *testing.T) {
	require.NoError(t, ValidatePassword("Sup3r-Str0ng-Pass"))

	err := ValidatePassword("short")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPasswordWeak)
	msg := err.Error()
	assert.Contains(t, msg, "at least 12 characters")
	assert.Contains(t, msg, "uppercase")
	assert.Contains(t, msg, "digit")
	assert.Contains(t, msg, "symbol")
	assert.NotContains(t, msg, "lowercase")
}

func TestValidateOpenAIKey(t *testing.T) {
	assert.ErrorIs(t, ValidateOpenAIKey("pk-"+strings.Repeat("x", 48)), ErrInvalidAPIKey)
	assert.ErrorIs(t, ValidateOpenAIKey("sk-short"), ErrInvalidAPIKey)
	assert.NoError(t, ValidateOpenAIKey("sk-"+strings.Repeat("a1", 24)))
}
