// Package middleware holds cross-cutting net/http wrappers for the
// admin introspection mux (pkg/routing). Nothing here touches the raw
// socket request path in pkg/fileserver, which bypasses net/http
// entirely.
package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedMethods lists the methods a valid CORS preflight may
// request. The admin mux only ever serves GET, unlike the teacher's
// model-management API, which also accepts mutating verbs.
const allowedMethods = "GET"

// CorsMiddleware gates cross-origin access to the admin mux behind an
// explicit origin allowlist. With no allowedOrigins given it falls
// back to originsFromEnv(). A nil result (no origins configured)
// disables the middleware entirely, since the introspection endpoints
// are same-origin by default.
func CorsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = originsFromEnv()
	}
	if allowedOrigins == nil {
		return next
	}

	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowedSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowedSet[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		valid := origin != "" && (allowAll || originAllowed(origin, allowedSet))

		if valid {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !valid {
			// No origin or an unrecognized one: let the mux respond as
			// it would to any other request for this path.
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.WriteHeader(http.StatusNoContent)
	})
}

func originAllowed(origin string, allowedSet map[string]struct{}) bool {
	_, ok := allowedSet[origin]
	return ok
}

// originsFromEnv reads a comma-separated origin allowlist from
// CACHETIER_ORIGINS. Unset or empty means no origins are allowed.
func originsFromEnv() (origins []string) {
	raw := os.Getenv("CACHETIER_ORIGINS")
	if raw == "" {
		return nil
	}

	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	if len(origins) == 0 {
		return nil
	}
	return origins
}
