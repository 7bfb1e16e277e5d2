// Package middleware provides HTTP middleware components for the QuantLab API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfigProvider is implemented by the api package's server configuration.
// An interface keeps the dependency pointing from api to middleware only.
type CORSConfigProvider interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS creates a middleware that handles Cross-Origin Resource Sharing.
// Preflight OPTIONS requests are answered directly with 204 No Content.
func CORS(config CORSConfigProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers := w.Header()

			if origin := allowOrigin(r, config.GetAllowedOrigins()); origin != "" {
				headers.Set("Access-Control-Allow-Origin", origin)
			}

			if methods := config.GetAllowedMethods(); len(methods) > 0 {
				headers.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			}

			if allowed := config.GetAllowedHeaders(); len(allowed) > 0 {
				headers.Set("Access-Control-Allow-Headers", strings.Join(allowed, ", "))
			}

			if maxAge := config.GetMaxAge(); maxAge > 0 {
				headers.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			}

			// Clients need to read the echoed correlation ID cross-origin.
			headers.Set("Access-Control-Expose-Headers", "X-Correlation-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowOrigin resolves the Access-Control-Allow-Origin value for a request.
// Empty means the origin is not allowed and the header is omitted.
func allowOrigin(r *http.Request, allowed []string) string {
	if len(allowed) == 0 {
		return ""
	}

	if len(allowed) == 1 && allowed[0] == "*" {
		return "*"
	}

	origin := r.Header.Get("Origin")
	for _, candidate := range allowed {
		if origin == candidate {
			return origin
		}
	}

	return ""
}
