package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/parking-reservation/backend/internal/auth"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// Authenticate resolves the bearer token, if any, and stores the identity in
// the request context. Requests without a token pass through anonymously; a
// token that fails verification is rejected with 401.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "Authorization header must be a bearer token")
				return
			}

			id, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// Require rejects requests whose identity lacks capability with 401 or 403.
func Require(capability auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := auth.Authorize(auth.FromContext(r.Context()), capability)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, auth.ErrUnauthenticated):
				WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "Authentication required")
			default:
				WriteError(w, http.StatusForbidden, ErrForbidden, "You are not allowed to perform this action")
			}
		})
	}
}
