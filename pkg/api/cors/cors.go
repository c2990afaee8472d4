// Package cors decides which browser origins may call the API.
package cors

import "strings"

// Policy allows every origin in development and only configured origins in
// production.
type Policy struct {
	allowAll bool
	allowed  map[string]bool
}

// NewPolicy builds the policy for environment
func NewPolicy(environment string, origins []string) *Policy {
	p := &Policy{
		allowAll: !strings.EqualFold(environment, "production"),
		allowed:  make(map[string]bool, len(origins)),
	}
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			p.allowed[strings.TrimRight(o, "/")] = true
		}
	}
	if p.allowed["*"] {
		p.allowAll = true
	}
	return p
}

// AllowAll reports whether any origin is accepted.
func (p *Policy) AllowAll() bool {
	return p.allowAll
}

// Allows reports whether origin may call the API. Requests without an
// Origin header are not cross-origin and always pass.
func (p *Policy) Allows(origin string) bool {
	if origin == "" || p.allowAll {
		return true
	}
	return p.allowed[strings.TrimRight(origin, "/")]
}
