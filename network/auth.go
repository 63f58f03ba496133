package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var errNoToken = errors.New("missing token")

// Claims is the token body issued by the account service.
type Claims struct {
	jwt.RegisteredClaims
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type ctxKey struct{}

// Auth resolves the caller's identity from an HMAC-signed JWT.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Identify reads the token from the Authorization header, or from the
// token query parameter for WebSocket clients that cannot set headers.
func (a *Auth) Identify(r *http.Request) (int64, error) {
	tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tokenStr == "" {
		tokenStr = r.URL.Query().Get("token")
	}
	if tokenStr == "" {
		return 0, errNoToken
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKey
		}
		return a.secret, nil
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, keyFunc)
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.ID <= 0 {
		return 0, errors.New("token has no user id")
	}
	return claims.ID, nil
}

// Middleware rejects requests without a valid token and stores the user id
// in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Your token is invalid or expired. Please log in again.")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFrom returns the id stored by Middleware.
func UserFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}
