package routing

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testRouter() *Router {
	r := New()
	r.Add(&Route{ID: "login", Methods: MethodSet([]string{"post"}), Prefix: "/auth/login", Policy: "authentication"})
	r.Add(&Route{ID: "api", Methods: MethodSet([]string{"GET", "POST"}), Prefix: "/api/", Policy: "api"})
	r.Add(&Route{ID: "feed", Prefix: "/public/feed", Policy: "ip"})
	return r
}

func TestRouter_Match(t *testing.T) {
	r := testRouter()

	cases := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/auth/login", "login"},
		{http.MethodGet, "/api/products", "api"},
		{http.MethodGet, "/api", "api"},
		{http.MethodDelete, "/public/feed", "feed"},
		{http.MethodGet, "/public/feed/2", "feed"},
	}
	for _, c := range cases {
		rt, ok := r.Match(c.method, c.path)
		if !ok || rt.ID != c.want {
			t.Fatalf("%s %s: expected route %q, got %+v", c.method, c.path, c.want, rt)
		}
	}

	for _, miss := range [][2]string{
		{http.MethodGet, "/auth/login"},
		{http.MethodGet, "/apiary"},
		{http.MethodGet, "/"},
	} {
		if rt, ok := r.Match(miss[0], miss[1]); ok {
			t.Fatalf("%s %s: expected no match, got %q", miss[0], miss[1], rt.ID)
		}
	}
}

func TestRouter_Policies(t *testing.T) {
	got := testRouter().Policies()
	want := []string{"authentication", "api", "ip"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRouteContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	if _, ok := RouteFrom(req); ok {
		t.Fatalf("expected no route on a fresh request")
	}

	rt := &Route{ID: "api"}
	got, ok := RouteFrom(WithRoute(req, rt))
	if !ok || got != rt {
		t.Fatalf("expected route from context")
	}
}
