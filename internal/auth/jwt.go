package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims — кто говорит с event-API: идентификатор фронтового клиента
// (бот-адаптер, консоль), не конечного пользователя.
type Claims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

func Sign(secret []byte, clientID string, ttl time.Duration) (string, error) {
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

func Verify(secret []byte, token string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
