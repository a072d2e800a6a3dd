package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// TokenAuth admits requests whose bearer token matches the bcrypt hash.
// Websocket clients cannot set headers, so a token query parameter is
// accepted as well. An empty hash rejects everything.
func TokenAuth(hash string) func(http.Handler) http.Handler {
	v := &tokenVerifier{hash: []byte(hash)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if strings.HasPrefix(token, "Bearer ") {
				token = token[7:]
			} else {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			if !v.verify(token) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenVerifier remembers the last accepted token so bcrypt only runs when
// the presented token changes.
type tokenVerifier struct {
	hash []byte

	mu       sync.Mutex
	accepted string
}

func (v *tokenVerifier) verify(token string) bool {
	if len(v.hash) == 0 {
		return false
	}
	v.mu.Lock()
	accepted := v.accepted
	v.mu.Unlock()
	if accepted != "" && subtle.ConstantTimeCompare([]byte(accepted), []byte(token)) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(token)) != nil {
		return false
	}
	v.mu.Lock()
	v.accepted = token
	v.mu.Unlock()
	return true
}
