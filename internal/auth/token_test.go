package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("u1", "alice", "secret")
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("u1", "alice", "secret")
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := ValidateToken("not.a.token", "secret")
	assert.Error(t, err)
}

func TestWSIdentity(t *testing.T) {
	identify := WSIdentity("secret")

	token, err := GenerateToken("u1", "alice", "secret")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws/chat/room1?token="+token, nil)
	userID, username, ok := identify(r)
	require.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "alice", username)

	r = httptest.NewRequest("GET", "/ws/chat/room1", nil)
	_, _, ok = identify(r)
	assert.False(t, ok)

	r = httptest.NewRequest("GET", "/ws/chat/room1?token=garbage", nil)
	_, _, ok = identify(r)
	assert.False(t, ok)
}
