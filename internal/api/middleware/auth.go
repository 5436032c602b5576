package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/vehiclefolders/internal/api/response"
	"github.com/kiranshivaraju/vehiclefolders/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	keys store.APIKeyStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(keys store.APIKeyStore) *Auth {
	return &Auth{keys: keys}
}

// Authenticate validates the Bearer token, looks up the API key, and sets
// user_id, key_prefix, and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]

		keys, err := a.keys.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("api key lookup failed", "error", err, "key_prefix", prefix)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		// Several keys may share a prefix; bcrypt decides.
		var matched bool
		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
				continue
			}
			ctx := r.Context()
			ctx = SetUserID(ctx, key.UserID)
			ctx = setKeyPrefix(ctx, prefix)
			ctx = setScopes(ctx, key.Scopes)
			r = r.WithContext(ctx)
			matched = true

			keyID := key.ID
			go func() {
				if err := a.keys.UpdateAPIKeyLastUsed(context.Background(), keyID); err != nil {
					slog.Warn("updating api key last_used_at", "error", err, "key_id", keyID)
				}
			}()
			break
		}

		if !matched {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range getScopes(r) {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
