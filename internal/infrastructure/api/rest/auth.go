package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
)

// bearerAuth validates a JWT on the Authorization header, grounded on the
// teacher's websocket JWTAuth but narrowed to the one source HTTP
// Authorization headers support: no query-param or subprotocol fallback,
// since POST /cancel/{jobId} is a plain REST call, not a browser socket.
type bearerAuth struct {
	secret []byte
}

func newBearerAuth(secret string) *bearerAuth {
	return &bearerAuth{secret: []byte(secret)}
}

func (a *bearerAuth) validate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return errMissingToken
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return errInvalidToken
	}
	return nil
}

// requireAuth gates a handler behind bearerAuth. When s.auth is nil
// (JWTSecret unset in config), authentication is a no-op: spec.md names
// cancellation auth as an operator-configurable hardening, not a pinned
// requirement.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.auth.validate(r); err != nil {
			writeJSON(w, http.StatusUnauthorized, apiError{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}
