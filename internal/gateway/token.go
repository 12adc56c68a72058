package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims this gateway understands. The principal
// id travels in the registered subject claim; username is the fallback
// identity when the subject is absent.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// extractToken reads the bearer credential from the Authorization header or,
// when absent, the configured cookie.
func extractToken(r *http.Request, cookieName string) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// verifyToken checks the signature and claims against the shared secret.
// Expired tokens fail verification.
func verifyToken(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("gateway: token invalid")
	}
	return claims, nil
}
