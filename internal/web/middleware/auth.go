package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/znz-systems/courier/internal/auth"
)

// RequireToken returns middleware that enforces a bearer token matching the
// bcrypt hash. An empty hash disables the check. The last verified token is
// remembered so bcrypt runs once per distinct token.
func RequireToken(hash string) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		verified string
	)
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			mu.Lock()
			known := verified != "" && subtle.ConstantTimeCompare([]byte(token), []byte(verified)) == 1
			mu.Unlock()

			if !known {
				if err := auth.CheckToken(hash, token); err != nil {
					unauthorized(w)
					return
				}
				mu.Lock()
				verified = token
				mu.Unlock()
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
