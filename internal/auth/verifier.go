package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Principal is the authenticated identity resolved from a bearer credential.
type Principal struct {
	ID        string
	ContactID string
}

// Claims is the payload carried inside a SecureLink JWT.
type Claims struct {
	ContactID string `json:"contact_id"`
	jwt.RegisteredClaims
}

// Verifier turns bearer credentials into principals. Token issuance lives in
// the identity service; GenerateToken exists for tests and local tooling.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the token signature, expiry and issuer.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return Principal{}, errors.Join(ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ContactID == "" {
		return Principal{}, ErrInvalidCredential
	}
	return Principal{ID: claims.Subject, ContactID: claims.ContactID}, nil
}

// GenerateToken signs a token for the given principal.
func (v *Verifier) GenerateToken(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ContactID: p.ContactID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
