package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("secret", Claims{UserID: "u1", RoleName: RoleHR}, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, RoleHR, claims.RoleName)
	assert.Equal(t, "u1", claims.Subject)
}

func TestParseTokenRejects(t *testing.T) {
	token, err := GenerateToken("secret", Claims{UserID: "u1", RoleName: RoleHR}, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken("other", token)
	assert.Error(t, err)

	expired, err := GenerateToken("secret", Claims{UserID: "u1", RoleName: RoleHR}, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("secret", expired)
	assert.Error(t, err)

	anonymous, err := GenerateToken("secret", Claims{RoleName: RoleHR}, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken("secret", anonymous)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u1"})
	signed, err := none.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ParseToken("secret", signed)
	assert.Error(t, err)
}
