package rbac

import (
	"context"
	"strings"
)

// Checker evaluates a role policy. A grant is an exact action, an
// "area:*" prefix or "*".
type Checker struct {
	roles map[string]grants
}

type grants struct {
	everything bool
	exact      map[string]struct{}
	prefixes   []string
}

// NewChecker compiles policy; nil uses RolePermissions.
func NewChecker(policy map[string][]string) *Checker {
	if policy == nil {
		policy = RolePermissions
	}
	c := &Checker{roles: make(map[string]grants, len(policy))}
	for role, list := range policy {
		g := grants{exact: map[string]struct{}{}}
		for _, p := range list {
			switch {
			case p == "*":
				g.everything = true
			case strings.HasSuffix(p, "*"):
				g.prefixes = append(g.prefixes, strings.TrimSuffix(p, "*"))
			default:
				g.exact[p] = struct{}{}
			}
		}
		c.roles[role] = g
	}
	return c
}

func (c *Checker) Has(role, action string) bool {
	g, ok := c.roles[role]
	if !ok {
		return false
	}
	if g.everything {
		return true
	}
	if _, ok := g.exact[action]; ok {
		return true
	}
	for _, p := range g.prefixes {
		if strings.HasPrefix(action, p) {
			return true
		}
	}
	return false
}

type roleKey struct{}

// WithRole pins the caller's role for the rest of the request, bypassing
// the RoleResolver.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey{}).(string)
	return role, ok && role != ""
}
