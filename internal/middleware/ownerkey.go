package middleware

import (
	"context"
	"net/http"
	"strings"
)

const ownerKeyHeader = "X-Owner-Key"

const ownerKey contextKey = "owner_key"

// OwnerKey requires the caller's opaque owner key on every request and makes
// it available to handlers. Workflows are scoped to the key that created them.
func OwnerKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(ownerKeyHeader))
		if key == "" {
			// Websocket clients cannot set custom headers from a browser.
			key = strings.TrimSpace(r.URL.Query().Get("owner_key"))
		}
		if key == "" {
			http.Error(w, `{"error":"missing owner key"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerKeyFromContext returns the owner key injected by OwnerKey.
func OwnerKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey).(string); ok {
		return v
	}
	return ""
}
