package gateway

import (
	"net/http"

	"github.com/AlexKimmel/GateLite/internal/routing"
)

// RouteMatcher stores the matched route in the request context. Unmatched
// requests pass through and are only subject to the global policy.
func RouteMatcher(rr *routing.Router, skip map[string]struct{}) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			rt, ok := rr.Match(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, routing.WithRoute(r, rt))
		})
	}
}
