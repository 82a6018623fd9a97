package teameval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

// GroupCache memoizes membership lookups for the lifetime of one Scorer.
type GroupCache struct {
	src     Groups
	members map[int64][]int64
	groupOf map[int64]int64
}

func NewGroupCache(src Groups) *GroupCache {
	return &GroupCache{src: src, members: map[int64][]int64{}, groupOf: map[int64]int64{}}
}

func (c *GroupCache) MembersOf(ctx context.Context, instanceID, groupID int64) ([]int64, error) {
	if m, ok := c.members[groupID]; ok {
		return m, nil
	}
	m, err := c.src.MembersOf(ctx, instanceID, groupID)
	if err != nil {
		return nil, err
	}
	c.members[groupID] = m
	return m, nil
}

func (c *GroupCache) GroupOf(ctx context.Context, instanceID, userID int64) (int64, error) {
	if g, ok := c.groupOf[userID]; ok {
		return g, nil
	}
	g, err := c.src.GroupOf(ctx, instanceID, userID)
	if err != nil {
		return 0, err
	}
	c.groupOf[userID] = g
	return g, nil
}

type question struct {
	Question
	kind QuestionType
	// by marker
	responses map[int64]Response
}

// Scorer answers team evaluation questions for one instance from a snapshot
// taken by Load. It is not safe for concurrent use and should not outlive
// the request or recompute that created it.
type Scorer struct {
	InstanceID int64
	Settings   Settings
	// Warnings lists stored responses Load skipped because they did not
	// decode.
	Warnings []apperr.Warning

	questions []question
	releases  []Release
	grades    Store
	groups    *GroupCache
	now       func() time.Time
}

// Load snapshots the instance's settings, questions, decoded responses and
// releases. An instance without settings uses DefaultSettings with
// evaluation disabled. A stored response that fails to decode is left out,
// as if the marker had not answered, and recorded in Warnings.
func Load(ctx context.Context, store Store, groups Groups, types *QuestionTypes, instanceID int64, now func() time.Time) (*Scorer, error) {
	if now == nil {
		now = time.Now
	}
	settings, err := store.Settings(ctx, instanceID)
	if errors.Is(err, apperr.ErrNotFound) {
		settings = DefaultSettings()
		settings.Enabled = false
	} else if err != nil {
		return nil, err
	}
	qs, err := store.Questions(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	byID := make(map[int64]*question, len(qs))
	s := &Scorer{
		InstanceID: instanceID,
		Settings:   settings,
		questions:  make([]question, len(qs)),
		grades:     store,
		groups:     NewGroupCache(groups),
		now:        now,
	}
	for i, q := range qs {
		kind, err := types.Get(q.Type)
		if err != nil {
			return nil, err
		}
		s.questions[i] = question{Question: q, kind: kind, responses: map[int64]Response{}}
		byID[q.ID] = &s.questions[i]
	}
	stored, err := store.Responses(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	for _, sr := range stored {
		q, ok := byID[sr.QuestionID]
		if !ok {
			continue
		}
		r, err := q.kind.Decode(q.Question, sr.Payload)
		if err != nil {
			s.Warnings = append(s.Warnings, apperr.Warn(apperr.ErrIntegrityViolation, "teameval_response", sr.MarkerID,
				"response to question %d: %v", sr.QuestionID, err))
			continue
		}
		q.responses[sr.MarkerID] = r
	}
	if s.releases, err = store.Releases(ctx, instanceID); err != nil {
		return nil, fmt.Errorf("load releases: %w", err)
	}
	return s, nil
}

func (s *Scorer) answered(q question, userID int64) bool {
	r, ok := q.responses[userID]
	return ok && r.MarksGiven()
}

// CompletionFraction is the share of completable questions userID has
// answered; 1 when there are none.
func (s *Scorer) CompletionFraction(userID int64) float64 {
	total, done := 0, 0
	for _, q := range s.questions {
		if !q.kind.HasCompletion() {
			continue
		}
		total++
		if s.answered(q, userID) {
			done++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(done) / float64(total)
}

// Score is the mean opinion of userID over every completable question and
// every teammate who answered it. Self marks count only with IncludeSelf.
// A user nobody rated scores 1.
func (s *Scorer) Score(ctx context.Context, userID int64) (float64, error) {
	gid, err := s.groups.GroupOf(ctx, s.InstanceID, userID)
	if err != nil {
		return 0, err
	}
	markers, err := s.groups.MembersOf(ctx, s.InstanceID, gid)
	if err != nil {
		return 0, err
	}
	var sum float64
	n := 0
	for _, q := range s.questions {
		if !q.kind.HasCompletion() {
			continue
		}
		for _, m := range markers {
			if m == userID && !s.Settings.IncludeSelf {
				continue
			}
			r, ok := q.responses[m]
			if !ok || !r.MarksGiven() {
				continue
			}
			if v, ok := r.OpinionOf(userID); ok {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 1, nil
	}
	return sum / float64(n), nil
}

// Multiplier turns an opinion score into a grade multiplier:
// (1-fraction) + score*fraction - penalty*(1-completion).
func (s *Scorer) Multiplier(score float64, userID int64) float64 {
	f := s.Settings.Fraction
	penalty := s.Settings.NoncompletionPenalty * (1 - s.CompletionFraction(userID))
	return (1 - f) + score*f - penalty
}

// MarksReleased checks autorelease, then an ALL release, then the user's
// group, then the user.
func (s *Scorer) MarksReleased(ctx context.Context, userID int64) (bool, error) {
	if s.Settings.Autorelease {
		return true, nil
	}
	gid, err := s.groups.GroupOf(ctx, s.InstanceID, userID)
	if err != nil {
		return false, err
	}
	for _, r := range s.releases {
		switch {
		case r.Scope == ScopeAll:
			return true, nil
		case r.Scope == ScopeGroup && gid != 0 && r.TargetID == gid:
			return true, nil
		case r.Scope == ScopeUser && r.TargetID == userID:
			return true, nil
		}
	}
	return false, nil
}

// GroupReady reports whether every member of userID's group answered every
// completable question.
func (s *Scorer) GroupReady(ctx context.Context, userID int64) (bool, error) {
	gid, err := s.groups.GroupOf(ctx, s.InstanceID, userID)
	if err != nil {
		return false, err
	}
	members := []int64{userID}
	if gid != 0 {
		if members, err = s.groups.MembersOf(ctx, s.InstanceID, gid); err != nil {
			return false, err
		}
	}
	for _, q := range s.questions {
		if !q.kind.HasCompletion() {
			continue
		}
		for _, m := range members {
			if !s.answered(q, m) {
				return false, nil
			}
		}
	}
	return true, nil
}

// MarksAvailable is released and then either past the deadline or with the
// whole group done. It is evaluated afresh on every call.
func (s *Scorer) MarksAvailable(ctx context.Context, userID int64) (bool, error) {
	released, err := s.MarksReleased(ctx, userID)
	if err != nil || !released {
		return false, err
	}
	if s.Settings.DeadlinePassed(s.now()) {
		return true, nil
	}
	return s.GroupReady(ctx, userID)
}

// AdjustedGrade is the group grade scaled by userID's multiplier. It is nil
// while marks are unavailable, when evaluation is disabled, or when the
// group has no grade yet.
func (s *Scorer) AdjustedGrade(ctx context.Context, userID int64) (*float64, error) {
	if !s.Settings.Enabled {
		return nil, nil
	}
	ok, err := s.MarksAvailable(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	gid, err := s.groups.GroupOf(ctx, s.InstanceID, userID)
	if err != nil {
		return nil, err
	}
	base, err := s.grades.GroupGrade(ctx, s.InstanceID, gid)
	if err != nil || base == nil {
		return nil, err
	}
	score, err := s.Score(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := *base * s.Multiplier(score, userID)
	return &v, nil
}
