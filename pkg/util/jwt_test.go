package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	token, err := GenerateJWT(42, "admin", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestJWT_WrongSecretAndExpired(t *testing.T) {
	token, err := GenerateJWT(42, "", "secret", time.Hour)
	require.NoError(t, err)
	_, err = ParseJWT(token, "other")
	assert.Error(t, err)

	expired, err := GenerateJWT(42, "", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(expired, "secret")
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/notifications?token=q", nil)
	assert.Equal(t, "q", ExtractToken(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", ExtractToken(r))

	r.Header.Set("Authorization", "Basic x")
	assert.Equal(t, "", ExtractToken(r))
}
