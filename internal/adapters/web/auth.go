package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"factory-procurement/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

type actorKey struct{}

// actorFromContext returns the authenticated actor stored in ctx.
func actorFromContext(ctx context.Context) (core.Actor, bool) {
	v, ok := ctx.Value(actorKey{}).(core.Actor)
	return v, ok
}

// jwtClaims is the bearer token payload. Tokens are issued by the identity
// provider; this service only verifies them.
type jwtClaims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// bearerToken extracts the token from the Authorization header, falling back
// to the auth_token cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *Handler) parseToken(raw string) (*jwtClaims, error) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// RequireAuth validates the bearer token, resolves the user it names and
// injects that user's Actor into the request context. Role and factory
// assignments always come from the directory, never from the token.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		claims, err := h.parseToken(raw)
		if err != nil {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		self := core.Actor{UserID: claims.UserID}
		user, err := h.directory.GetUser(r.Context(), self, claims.UserID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				writeError(w, r, "unknown user", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			h.writeServiceError(w, r, err)
			return
		}
		if !user.IsActive {
			writeError(w, r, "user is inactive", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, user.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// me handles GET /api/me.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	user, err := h.directory.GetUser(r.Context(), actor, actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, user)
}
