package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuerRoundTrip(t *testing.T) {
	iss, err := NewIssuer("s3cret", time.Hour)
	require.NoError(t, err)

	token, err := iss.GenerateJWT("reviewer-7")
	require.NoError(t, err)

	sub, err := iss.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "reviewer-7", sub)
}

func TestValidateRejects(t *testing.T) {
	iss, err := NewIssuer("s3cret", time.Hour)
	require.NoError(t, err)
	other, err := NewIssuer("different", time.Hour)
	require.NoError(t, err)

	foreign, err := other.GenerateJWT("reviewer-7")
	require.NoError(t, err)
	_, err = iss.ValidateJWT(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.ValidateJWT("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.ValidateJWT(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	iss, err := NewIssuer("s3cret", time.Minute)
	require.NoError(t, err)
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return issued }

	token, err := iss.GenerateJWT("reviewer-7")
	require.NoError(t, err)

	iss.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = iss.ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	assert.Error(t, err)
}
