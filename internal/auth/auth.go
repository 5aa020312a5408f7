// Package auth resolves API keys to key ids. A known id lets the rate limiter
// partition by caller instead of by address.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const DefaultHeader = "X-API-Key"

type keyIDCtx struct{}

// Keys is a fixed set of API keys, indexed by secret.
type Keys struct {
	header string
	ids    map[string]string // secret -> key id
}

func NewKeys(header string, ids map[string]string) *Keys {
	if header == "" {
		header = DefaultHeader
	}
	k := &Keys{header: header, ids: make(map[string]string, len(ids))}
	for secret, id := range ids {
		if secret != "" && id != "" {
			k.ids[secret] = id
		}
	}
	return k
}

// Identify looks up the key carried by r. present is false when the request
// has no key at all.
func (k *Keys) Identify(r *http.Request) (id string, present bool) {
	secret := strings.TrimSpace(r.Header.Get(k.header))
	if secret == "" {
		return "", false
	}
	return k.ids[secret], true
}

func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyIDCtx{}, id)
}

func KeyIDFrom(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(keyIDCtx{}).(string)
	return id, id != ""
}

type unauthorized struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware puts the key id of a known key in the request context. Requests
// without a key stay anonymous; an unknown key gets 401.
func (k *Keys) Middleware(skip map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id, present := k.Identify(r)
			switch {
			case !present:
				next.ServeHTTP(w, r)
			case id == "":
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(unauthorized{
					Error:   "invalid_api_key",
					Message: "API key not recognized",
				})
			default:
				next.ServeHTTP(w, r.WithContext(WithKeyID(r.Context(), id)))
			}
		})
	}
}
