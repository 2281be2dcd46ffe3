package authutil

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	secretOnce sync.Once // Ensure that the key is only read and initialized once.
	secretKey  []byte
)

// getSecret retrieves the secret key from environment variable or defaults for development.
func getSecret() []byte {
	secretOnce.Do(func() {
		key := os.Getenv("FORUM_AUTH_SECRET")
		if key == "" {
			key = "dev-secret-change-me" // using a default for development
		}
		secretKey = []byte(key)
	})
	return secretKey
}

// Identity is the authenticated account a token vouches for.
type Identity struct {
	UserID   int64
	Nickname string
}

// IssueToken returns a signed JWT for the provided account.
func IssueToken(userID int64, nickname string) (string, error) {
	claims := jwt.MapClaims{
		"sub":      userID,
		"nickname": nickname,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(getSecret())
}

// ValidateToken parses token string and validates signature, returning the identity.
func ValidateToken(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, errors.New("empty token")
	}
	// check if token method is the HMAC and validate signature
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return getSecret(), nil
	})
	if err != nil {
		return Identity{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("invalid token claims")
	}
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return Identity{}, errors.New("missing subject claim")
	}
	nickname, _ := claims["nickname"].(string)
	return Identity{UserID: int64(sub), Nickname: nickname}, nil
}
