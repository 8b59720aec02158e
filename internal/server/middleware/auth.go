package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires the gateway API key on every request except preflights and
// the listed public paths. The key is accepted as "Authorization: Bearer"
// or in X-API-Key. An empty apiKey disables the check.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	if apiKey == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}
			got := presentedKey(r)
			switch {
			case got == "":
				reject(w, http.StatusUnauthorized, "missing API key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				reject(w, http.StatusUnauthorized, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p {
			return true
		}
	}
	return false
}

func presentedKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
