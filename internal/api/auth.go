package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey struct{}

// userFrom returns the authenticated user id.
func userFrom(ctx context.Context) string {
	uid, _ := ctx.Value(contextKey{}).(string)
	return uid
}

// authenticate maps a bearer token to a user id. Every configured token
// is compared in constant time.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}

	var uid string
	for candidate, id := range s.config.Tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			uid = id
		}
	}
	return uid, uid != ""
}

// requireAuth rejects requests without a valid bearer token with 401.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="coachd"`)
			s.errorResponse(w, http.StatusUnauthorized, "missing or invalid credential")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, uid)))
	})
}
