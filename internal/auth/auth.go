// Package auth turns the hosted auth service's access tokens into sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AnonymousUser owns data created without a signed-in session.
const AnonymousUser = "me"

var ErrInvalidToken = errors.New("invalid or expired token")

type contextKey string

const sessionKey contextKey = "session"

type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseSession validates an HS256 token. An empty token yields the
// anonymous session.
func ParseSession(token, secret string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{UserID: AnonymousUser}, nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{UserID: claims.Subject, Email: claims.Email}, nil
}

// Sign issues a token for session that expires after ttl.
func Sign(session Session, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: session.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Middleware requires "Authorization: Bearer <token>" when secret is set.
// Without a secret every request runs as the anonymous session.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), Session{UserID: AnonymousUser})))
				return
			}

			header := r.Header.Get("Authorization")
			parts := strings.Split(header, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			session, err := ParseSession(parts[1], secret)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// FromContext returns the request session, or the anonymous one.
func FromContext(ctx context.Context) Session {
	if session, ok := ctx.Value(sessionKey).(Session); ok {
		return session
	}
	return Session{UserID: AnonymousUser}
}
