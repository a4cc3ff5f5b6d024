package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

var errUnauthorized = errors.New("unauthorized")

type requestIDKey struct{}

// requestID tags every request with an ID, reusing the caller's when present.
func requestID(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			logger.Debug("Request",
				zap.String("requestId", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

func requestLogger(r *http.Request, logger *zap.Logger) *zap.Logger {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return logger.With(zap.String("requestId", id))
	}
	return logger
}

// adminAuth requires an HS256 bearer token signed with secret. Preflight
// requests pass through so CORS keeps working.
func adminAuth(secret []byte, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if err := validateAdminToken(r.Header.Get("Authorization"), secret); err != nil {
				requestLogger(r, logger).Warn("Rejected admin request",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				if werr := writeJSONError(w, err); werr != nil {
					requestLogger(r, logger).Error("Error handling request", zap.Error(werr))
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validateAdminToken(header string, secret []byte) error {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return fmt.Errorf("%w: missing bearer token", errUnauthorized)
	}

	token, err := jwt.Parse(strings.TrimSpace(tokenString), func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %s", errUnauthorized, err.Error())
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", errUnauthorized)
	}
	return nil
}
