package remote

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a realtime channel handshake token
// fails signature or expiry validation.
var ErrInvalidToken = errors.New("remote: invalid channel auth token")

// ChannelClaims is the token payload the realtime channel handshake
// (C8) presents to the remote store's change-feed endpoint: who is
// subscribing and for how long the subscription is valid.
type ChannelClaims struct {
	jwt.RegisteredClaims
	UserID string
}

// SignChannelToken mints a handshake token for subscribing to one
// user's realtime channel, grounded on the teacher's auth token flow.
func SignChannelToken(userID string, secretKey []byte, validFor time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ChannelClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validFor)),
		},
		UserID: userID,
	})
	return token.SignedString(secretKey)
}

// ParseChannelToken validates a handshake token and returns the user id
// it was issued for.
func ParseChannelToken(tokenString string, secretKey []byte) (string, error) {
	claims := &ChannelClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secretKey, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
