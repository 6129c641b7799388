package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/csmith1188/FormBank/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// SessionCookie is the name of the signed session cookie.
const SessionCookie = "formbank_session"

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
)

// AuthMiddleware requires a valid session cookie and puts the Formbar user id
// and display name on the request context.
func AuthMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, username, err := UserFromRequest(cfg, r)
			if err != nil {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, usernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromRequest validates the session cookie and returns its identity
func UserFromRequest(cfg *config.Config, r *http.Request) (int64, string, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return 0, "", fmt.Errorf("no session cookie")
	}

	token, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.SessionSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, "", fmt.Errorf("invalid session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", fmt.Errorf("invalid session claims")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return 0, "", fmt.Errorf("invalid session subject")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid session subject: %w", err)
	}
	username, _ := claims["name"].(string)
	return userID, username, nil
}

// NewSessionToken mints a signed 24h session token for the given identity
func NewSessionToken(cfg *config.Config, userID int64, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatInt(userID, 10),
		"name": username,
		"exp":  jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	signed, err := token.SignedString([]byte(cfg.SessionSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// SessionUserID returns the authenticated Formbar user id from the context
func SessionUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

// SessionUsername returns the authenticated display name from the context
func SessionUsername(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}
