package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

func TestCheckerWildcards(t *testing.T) {
	c := NewChecker(nil)
	assert.True(t, c.Has("teacher", ActionCalibrationRecompute))
	assert.True(t, c.Has("teacher", ActionGradesRecompute))
	assert.False(t, c.Has("student", ActionReleaseToggle))
	assert.True(t, c.Has("admin", "anything:at-all"))
	assert.False(t, c.Has("ghost", ActionAssessmentSubmit))

	custom := NewChecker(map[string][]string{"ta": {"grades:*", ActionReleaseToggle}})
	assert.True(t, custom.Has("ta", "grades:recompute"))
	assert.True(t, custom.Has("ta", ActionReleaseToggle))
	assert.False(t, custom.Has("ta", ActionCalibrationRecompute))
	assert.False(t, custom.Has("teacher", ActionGradesRecompute), "custom policy replaces the default")
}

func TestRoleFromContext(t *testing.T) {
	_, ok := RoleFromContext(context.Background())
	assert.False(t, ok)
	_, ok = RoleFromContext(WithRole(context.Background(), ""))
	assert.False(t, ok)
	role, ok := RoleFromContext(WithRole(context.Background(), "teacher"))
	assert.True(t, ok)
	assert.Equal(t, "teacher", role)
}

func TestRoleAuthorizerPerInstance(t *testing.T) {
	ctx := context.Background()
	roles := NewStaticRoles()
	roles.Grant(7, 1, "teacher")
	roles.Grant(7, 0, "student")
	a := NewRoleAuthorizer(nil, roles)

	ok, err := a.IsPermitted(ctx, 7, ActionReleaseToggle, Scope{InstanceID: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.IsPermitted(ctx, 7, ActionReleaseToggle, Scope{InstanceID: 2})
	require.NoError(t, err)
	assert.False(t, ok, "student elsewhere")

	ok, err = a.IsPermitted(ctx, 8, ActionAssessmentSubmit, Scope{InstanceID: 1})
	require.NoError(t, err)
	assert.False(t, ok, "no role at all")

	ok, err = a.IsPermitted(WithRole(ctx, "admin"), 8, ActionReleaseToggle, Scope{InstanceID: 1})
	require.NoError(t, err)
	assert.True(t, ok, "role in context wins")
}

func TestRequireForbidden(t *testing.T) {
	a := NewRoleAuthorizer(nil, NewStaticRoles())
	err := Require(context.Background(), a, 3, ActionSettingsUpdate, Scope{InstanceID: 1})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.NoError(t, Require(context.Background(), AllowAll{}, 3, ActionSettingsUpdate, Scope{}))
}
