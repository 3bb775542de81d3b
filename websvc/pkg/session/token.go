package session

import (
	"time"

	"github.com/dgrijalva/jwt-go"
)

// accessExpiry reads the exp claim of an access token without verifying it.
// Tokens that are not JWTs, or carry no exp, yield the zero time.
func accessExpiry(access string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(access, claims); err != nil {
		return time.Time{}
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}
	}
	return time.Unix(int64(exp), 0).UTC()
}
