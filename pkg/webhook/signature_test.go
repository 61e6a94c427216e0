package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"action":"opened","number":42}`)
	secret := "s3cr3t"
	sig := Sign(body, secret)

	t.Run("valid signature", func(t *testing.T) {
		require.NoError(t, Verify(body, sig, secret))
		assert.True(t, Valid(body, sig, secret))
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := Verify(body, Sign(body, "other"), secret)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.True(t, IsAuthError(err))
	})

	t.Run("body modified", func(t *testing.T) {
		tampered := []byte(`{"action":"opened","number":43}`)
		assert.ErrorIs(t, Verify(tampered, sig, secret), ErrInvalidSignature)
	})

	t.Run("whitespace changes the digest", func(t *testing.T) {
		reformatted := []byte(`{"action": "opened", "number": 42}`)
		assert.ErrorIs(t, Verify(reformatted, sig, secret), ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		err := Verify(body, "", secret)
		assert.ErrorIs(t, err, ErrMissingSignature)
		assert.True(t, IsAuthError(err))
	})

	t.Run("empty secret fails closed", func(t *testing.T) {
		err := Verify(body, sig, "")
		assert.ErrorIs(t, err, ErrSecretNotConfigured)
		assert.False(t, IsAuthError(err))
	})

	t.Run("nil body", func(t *testing.T) {
		assert.ErrorIs(t, Verify(nil, sig, secret), ErrMissingBody)
	})

	t.Run("wrong prefix", func(t *testing.T) {
		bad := "sha1=" + strings.TrimPrefix(sig, "sha256=")
		assert.ErrorIs(t, Verify(body, bad, secret), ErrInvalidSignature)
	})

	t.Run("non hex digest", func(t *testing.T) {
		assert.ErrorIs(t, Verify(body, "sha256=zzzz", secret), ErrInvalidSignature)
	})

	t.Run("truncated digest", func(t *testing.T) {
		assert.ErrorIs(t, Verify(body, sig[:len(sig)-2], secret), ErrInvalidSignature)
	})
}

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte("hello"), "key")
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, strings.TrimPrefix(sig, "sha256="), 64)
}
