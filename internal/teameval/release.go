package teameval

import (
	"context"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

// AffectedUsers lists whose marks a release of the given scope touches.
func AffectedUsers(ctx context.Context, groups Groups, r Release) ([]int64, error) {
	switch r.Scope {
	case ScopeAll:
		return groups.Users(ctx, r.InstanceID)
	case ScopeGroup:
		return groups.MembersOf(ctx, r.InstanceID, r.TargetID)
	case ScopeUser:
		return []int64{r.TargetID}, nil
	}
	return nil, apperr.Configuration("teameval.release", "unknown scope %q", r.Scope)
}

// ToggleRelease turns a release on or off and returns the affected users.
// Nothing is affected when the release was already in that state. The
// affected users are resolved before the release is written.
func ToggleRelease(ctx context.Context, store Store, groups Groups, r Release, active bool) ([]int64, error) {
	if !r.Scope.Valid() {
		return nil, apperr.Configuration("teameval.release", "unknown scope %q", r.Scope)
	}
	if r.Scope == ScopeAll {
		r.TargetID = 0
	}
	affected, err := AffectedUsers(ctx, groups, r)
	if err != nil {
		return nil, err
	}
	changed, err := store.SetRelease(ctx, r, active)
	if err != nil {
		return nil, err
	}
	if !changed {
		return []int64{}, nil
	}
	return affected, nil
}
