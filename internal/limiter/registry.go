package limiter

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AlexKimmel/GateLite/internal/ratelimit"
)

// GlobalPolicy is the name the global default policy is registered under.
const GlobalPolicy = "global"

var (
	ErrUnknownPolicy   = errors.New("unknown rate limit policy")
	ErrDuplicatePolicy = errors.New("duplicate rate limit policy")
)

// Registry holds the validated policies by name. It is immutable once built,
// so lookups need no locking.
type Registry struct {
	byName map[string]ratelimit.Policy
}

// NewRegistry validates global and policies. global is stored under
// GlobalPolicy whatever its Name field says.
func NewRegistry(global ratelimit.Policy, policies ...ratelimit.Policy) (*Registry, error) {
	global.Name = GlobalPolicy
	r := &Registry{byName: make(map[string]ratelimit.Policy, len(policies)+1)}
	for _, p := range append([]ratelimit.Policy{global}, policies...) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("policy %q: %w", p.Name, ErrDuplicatePolicy)
		}
		r.byName[p.Name] = p
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (ratelimit.Policy, error) {
	p, ok := r.byName[name]
	if !ok {
		return ratelimit.Policy{}, fmt.Errorf("policy %q: %w", name, ErrUnknownPolicy)
	}
	return p, nil
}

// Require checks that every name is registered. Callers use it at startup so
// a bad reference fails before traffic arrives.
func (r *Registry) Require(names ...string) error {
	for _, n := range names {
		if _, err := r.Lookup(n); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
