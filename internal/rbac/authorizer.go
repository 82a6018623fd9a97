package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

// Scope is the context a permission is checked in.
type Scope struct {
	InstanceID int64
}

// Authorizer is the permission collaborator: is userID allowed to perform
// action in scope.
type Authorizer interface {
	IsPermitted(ctx context.Context, userID int64, action string, scope Scope) (bool, error)
}

// RoleResolver finds a user's role in a scope; "" means no role.
type RoleResolver interface {
	RoleOf(ctx context.Context, userID int64, scope Scope) (string, error)
}

// RoleAuthorizer checks the resolved role against a Checker policy. A role
// carried in ctx wins over the resolver.
type RoleAuthorizer struct {
	Checker *Checker
	Roles   RoleResolver
}

func NewRoleAuthorizer(c *Checker, roles RoleResolver) *RoleAuthorizer {
	if c == nil {
		c = NewChecker(nil)
	}
	return &RoleAuthorizer{Checker: c, Roles: roles}
}

func (a *RoleAuthorizer) IsPermitted(ctx context.Context, userID int64, action string, scope Scope) (bool, error) {
	role, pinned := RoleFromContext(ctx)
	if !pinned && a.Roles != nil {
		r, err := a.Roles.RoleOf(ctx, userID, scope)
		if err != nil {
			return false, err
		}
		role = r
	}
	if role == "" {
		return false, nil
	}
	return a.Checker.Has(role, action), nil
}

// StaticRoles assigns roles per instance, with instance 0 as the fallback
// for every instance.
type StaticRoles struct {
	mu    sync.RWMutex
	roles map[[2]int64]string
}

func NewStaticRoles() *StaticRoles {
	return &StaticRoles{roles: map[[2]int64]string{}}
}

func (s *StaticRoles) Grant(userID, instanceID int64, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[[2]int64{userID, instanceID}] = role
}

func (s *StaticRoles) RoleOf(_ context.Context, userID int64, scope Scope) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.roles[[2]int64{userID, scope.InstanceID}]; ok {
		return r, nil
	}
	return s.roles[[2]int64{userID, 0}], nil
}

// Require returns an ErrForbidden error unless userID may perform action.
func Require(ctx context.Context, a Authorizer, userID int64, action string, scope Scope) error {
	ok, err := a.IsPermitted(ctx, userID, action, scope)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !ok {
		return apperr.New(apperr.ErrForbidden, action, fmt.Errorf("user %d in instance %d", userID, scope.InstanceID))
	}
	return nil
}

// AllowAll permits everything. Offline tooling that runs as the operator
// uses it.
type AllowAll struct{}

func (AllowAll) IsPermitted(context.Context, int64, string, Scope) (bool, error) { return true, nil }
