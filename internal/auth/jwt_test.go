package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier("secret")
	userID := uuid.New()

	token, err := v.Issue(Identity{UserID: userID, Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.Equal(t, RoleAdmin, id.Role)
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("one").Issue(Identity{UserID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("two").Verify(token)
	assert.Error(t, err)
}

func TestVerifier_RejectsExpired(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(Identity{UserID: uuid.New()}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifier_RejectsNonUUIDSubject(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "42"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewVerifier("secret").Verify(token)
	assert.Error(t, err)
}

func TestVerifier_MissingToken(t *testing.T) {
	_, err := NewVerifier("secret").Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(req))

	req = httptest.NewRequest("GET", "/stream?access_token=xyz", nil)
	assert.Equal(t, "xyz", ExtractToken(req))
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id := &Identity{UserID: uuid.New(), Role: "user"}
	got, ok := FromContext(WithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id.UserID, got.UserID)
}
