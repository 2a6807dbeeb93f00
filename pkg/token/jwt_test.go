package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)

	tokenStr, err := m.GenerateToken(42, "alice")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("secret-a", 1, 7)
	other := NewJWTManager("secret-b", 1, 7)

	tokenStr, err := m.GenerateToken(1, "alice")
	require.NoError(t, err)

	_, err = other.VerifyToken(tokenStr)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	m := NewJWTManager("test-secret", 1, 7)
	_, err := m.VerifyToken("not-a-token")
	assert.Error(t, err)
}
