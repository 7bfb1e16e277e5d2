// Package middleware provides HTTP middleware components for the QuantLab API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantlab-io/quantlab/internal/metrics"
)

// Instrument creates a middleware that records one duration observation per
// request, labeled by method, route pattern, and status code.
//
// The route label is the mux pattern that matched (for example
// "/api/jobs/{id}"), not the raw URL path, so path parameters do not explode
// metric cardinality. ServeMux stamps the pattern onto the request during
// routing, which is why the label is read after the handler returns.
func Instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			} else if _, path, ok := strings.Cut(route, " "); ok {
				// Method-qualified patterns repeat the method; keep the path part.
				route = path
			}

			m.ObserveHTTPRequest(r.Method, route, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
