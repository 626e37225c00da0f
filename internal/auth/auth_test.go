package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret", time.Hour)
	tok, err := v.Issue("42", "alice")
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("s3cret", time.Hour)
	other, err := NewVerifier("other", time.Hour).Issue("42", "alice")
	require.NoError(t, err)
	expired, err := NewVerifier("s3cret", -time.Minute).Issue("42", "alice")
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Username: "alice"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"wrong key":  other,
		"expired":    expired,
		"no subject": noSubject,
		"alg none":   unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
