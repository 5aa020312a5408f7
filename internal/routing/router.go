package routing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Route binds a path prefix and a method set to a rate limit policy.
// Admitted requests go to Upstream when it is set, else to the local mux.
type Route struct {
	ID       string
	Methods  map[string]struct{} // empty means any method
	Prefix   string
	Policy   string
	Upstream *url.URL
	Timeout  time.Duration
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

func (r *Router) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Policies lists the policy names referenced by routes, for startup checks.
func (r *Router) Policies() []string {
	var out []string
	for _, rt := range r.routes {
		if rt.Policy != "" {
			out = append(out, rt.Policy)
		}
	}
	return out
}

// Match returns the first route whose prefix and method accept the request.
func (r *Router) Match(method string, path string) (*Route, bool) {
	m := strings.ToUpper(method)
	for _, rt := range r.routes {
		if len(rt.Methods) > 0 {
			if _, ok := rt.Methods[m]; !ok {
				continue
			}
		}
		prefix := strings.TrimSuffix(strings.TrimSpace(rt.Prefix), "/")
		if prefix == "" {
			return rt, true
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return rt, true
		}
	}
	return nil, false
}

// MethodSet builds a Route.Methods value from a config list.
func MethodSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
	}
	return set
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
