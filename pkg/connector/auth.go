package connector

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims identifies the connector session a bearer token authorizes,
// checked before a message is allowed to reach the inbound router.
type SessionClaims struct {
	ConnectorID string `json:"connector_id"`
	UserID      string `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens presented by inbound connector
// sessions using a single HMAC signing key.
type Authenticator struct {
	signingKey []byte
}

// NewAuthenticator builds an authenticator around a shared signing key.
func NewAuthenticator(signingKey []byte) *Authenticator {
	return &Authenticator{signingKey: signingKey}
}

// IssueToken mints a bearer token for a connector session, valid for ttl.
func (a *Authenticator) IssueToken(connectorID, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		ConnectorID: connectorID,
		UserID:      userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("connector: sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks a bearer token's signature and expiry, returning the
// session claims it carries. Any signature mismatch, malformed token, or
// unexpected signing method is rejected outright — this gate fails closed.
func (a *Authenticator) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connector: invalid session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("connector: session token rejected")
	}
	if claims.ConnectorID == "" {
		return nil, fmt.Errorf("connector: session token missing connector_id")
	}
	return claims, nil
}
