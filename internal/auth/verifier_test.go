package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "securelink")

	token, err := v.GenerateToken(Principal{ID: "p1", ContactID: "alice"}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "p1", p.ID)
	require.Equal(t, "alice", p.ContactID)
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewVerifier("secret-a", "securelink")
	verifier := NewVerifier("secret-b", "securelink")

	token, err := issuer.GenerateToken(Principal{ID: "p1", ContactID: "alice"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.True(t, errors.Is(err, ErrInvalidCredential))
}

func TestVerifyWrongIssuer(t *testing.T) {
	issuer := NewVerifier("secret", "someone-else")
	verifier := NewVerifier("secret", "securelink")

	token, err := issuer.GenerateToken(Principal{ID: "p1", ContactID: "alice"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.True(t, errors.Is(err, ErrInvalidCredential))
}

func TestVerifyExpired(t *testing.T) {
	v := NewVerifier("secret", "securelink")

	token, err := v.GenerateToken(Principal{ID: "p1", ContactID: "alice"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.True(t, errors.Is(err, ErrInvalidCredential))
}

func TestVerifyGarbage(t *testing.T) {
	v := NewVerifier("secret", "securelink")
	_, err := v.Verify("not-a-token")
	require.True(t, errors.Is(err, ErrInvalidCredential))
}
