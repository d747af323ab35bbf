package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/domain"
)

type contextKey string

// userIDKey carries the authenticated account id through the request
// context.
const userIDKey contextKey = "userID"

// authenticator issues and verifies bearer tokens. JWT mode signs the
// user id with HS256; UID mode passes the raw id and exists for dev
// setups without a secret.
type authenticator struct {
	mode   config.AuthMode
	prefix string
	secret []byte
	expiry time.Duration
}

func newAuthenticator(cfg config.AuthConfig) *authenticator {
	return &authenticator{
		mode:   cfg.Mode,
		prefix: cfg.TokenPrefix,
		secret: []byte(cfg.JWTSecret),
		expiry: time.Duration(cfg.AccessTokenMinutes) * time.Minute,
	}
}

// IssueToken returns a bearer token for the account.
func (a *authenticator) IssueToken(userID string) (string, error) {
	if a.mode == config.AuthModeUID {
		return userID, nil
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":      userID,
		"exp":     now.Add(a.expiry).Unix(),
		"iat":     now.Unix(),
		"subject": "access",
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken extracts the account id from a bearer token.
func (a *authenticator) VerifyToken(token string) (string, error) {
	if a.mode == config.AuthModeUID {
		if !domain.ValidUserID(token) {
			return "", domain.ErrInvalidUserID
		}
		return token, nil
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", domain.ErrInvalidAuthToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", domain.ErrInvalidAuthToken
	}
	if subject, _ := claims["subject"].(string); subject != "access" {
		return "", domain.ErrInvalidAuthToken
	}
	id, _ := claims["id"].(string)
	if !domain.ValidUserID(id) {
		return "", domain.ErrInvalidAuthToken
	}
	return id, nil
}

// authMiddleware resolves the Authorization header to an account and
// rejects requests for accounts the cache does not know.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeError(w, domain.ErrAuthHeaderNotFound)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 {
			s.writeError(w, domain.ErrWrongTokenFormat)
			return
		}
		if parts[0] != s.auth.prefix {
			s.writeError(w, domain.ErrInvalidTokenPrefix)
			return
		}

		userID, err := s.auth.VerifyToken(parts[1])
		if err != nil {
			s.writeError(w, err)
			return
		}

		user, err := s.userCache.GetByID(r.Context(), userID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if user == nil {
			s.writeError(w, domain.ErrInvalidUserID)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestUserID returns the authenticated account id.
func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
