package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"civic-hazard-backend/internal/models"
	"civic-hazard-backend/internal/policy"
)

type contextKey string

const actorKey contextKey = "actor"

// TokenValidator verifies a bearer token and returns the identity it carries.
type TokenValidator interface {
	ValidateJWT(token string) (userID string, role models.Role, err error)
}

// AuthMiddleware creates a middleware for JWT authentication
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			userID, role, err := validator.ValidateJWT(parts[1])
			if err != nil {
				respondError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			actor := policy.Actor{ID: userID, Role: role}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthority rejects non-authority callers with 403.
func RequireAuthority(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := GetActor(r.Context())
		if !actor.IsAuthority() {
			respondError(w, "Authority access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActor extracts the authenticated actor from context.
func GetActor(ctx context.Context) policy.Actor {
	actor, ok := ctx.Value(actorKey).(policy.Actor)
	if !ok {
		return policy.Actor{}
	}
	return actor
}

// respondError sends an error response in the standard envelope
func respondError(w http.ResponseWriter, message string, statusCode int) {
	code := "unauthorized"
	if statusCode == http.StatusForbidden {
		code = "forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":       code,
			"message":    message,
			"statusCode": statusCode,
		},
	})
}
