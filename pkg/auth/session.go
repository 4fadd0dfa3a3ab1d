package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims read from a JWT session token.
// They are informational: the signature is not verified client-side.
type SessionClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// ParseSessionClaims reads the claims of token without verifying it.
// ok is false when token is not a JWT.
func ParseSessionClaims(token string) (claims SessionClaims, ok bool) {
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mapClaims); err != nil {
		return claims, false
	}
	claims.Subject, _ = mapClaims.GetSubject()
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, true
}

// SessionExpired reports whether token is a JWT whose exp lies before now.
// Opaque tokens and JWTs without exp never expire client-side.
func SessionExpired(token string, now time.Time) bool {
	claims, ok := ParseSessionClaims(token)
	if !ok || claims.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(claims.ExpiresAt)
}
