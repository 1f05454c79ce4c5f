package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyWSToken(t *testing.T) {
	signer := NewTokenSigner("test-signing-key")
	tok, err := signer.IssueWSToken("user-1", "pro")
	require.NoError(t, err)

	claims, err := signer.VerifyWSToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "pro", claims.Tier)
	assert.WithinDuration(t, time.Now().Add(wsTokenTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestVerifyWSTokenRejectsWrongKey(t *testing.T) {
	signer := NewTokenSigner("key-a")
	tok, err := signer.IssueWSToken("user-1", "free")
	require.NoError(t, err)

	other := NewTokenSigner("key-b")
	_, err = other.VerifyWSToken(tok)
	assert.Error(t, err)
}

func TestVerifyWSTokenRejectsGarbage(t *testing.T) {
	signer := NewTokenSigner("test-signing-key")
	_, err := signer.VerifyWSToken("not-a-jwt")
	assert.Error(t, err)
}
