package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader carries the field device key.
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware admits field devices presenting one of keys, either in the
// X-API-Key header or the api_key query parameter. An empty key list rejects everything.
func APIKeyMiddleware(keys []string) func(http.Handler) http.Handler {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if presented == "" {
				presented = r.URL.Query().Get("api_key")
			}
			if presented == "" {
				http.Error(w, "missing api key", http.StatusUnauthorized)
				return
			}
			for _, key := range allowed {
				if subtle.ConstantTimeCompare(key, []byte(presented)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "invalid api key", http.StatusUnauthorized)
		})
	}
}
