// Package grading turns a reviewer's per-dimension grades into one peer
// grade on a 0..100 scale.
package grading

import (
	"sort"
	"sync"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
	"github.com/mind-engage/mindengage-peer/internal/assessment"
)

// Strategy aggregates the grades of one assessment. ok is false when the
// assessment must be treated as ungraded; a zero grade is a real grade.
type Strategy interface {
	PeerGrade(dims []assessment.Dimension, grades []assessment.Grade) (grade float64, ok bool)
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(dims []assessment.Dimension, grades []assessment.Grade) (float64, bool)

func (f StrategyFunc) PeerGrade(dims []assessment.Dimension, grades []assessment.Grade) (float64, bool) {
	return f(dims, grades)
}

const (
	KindAccumulative = "accumulative"
	KindNumErrors    = "numerrors"
	KindRubric       = "rubric"
	KindComments     = "comments"
)

// Registry routes by strategy kind to the correct Strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

type Option func(*config)

type config struct {
	ErrorMapping []ErrorMapping
}

// WithErrorMapping sets the error-count to grade table used by numerrors.
func WithErrorMapping(m ...ErrorMapping) Option {
	return func(c *config) { c.ErrorMapping = m }
}

// NewRegistry installs the built-in strategies.
func NewRegistry(opts ...Option) *Registry {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return &Registry{
		strategies: map[string]Strategy{
			KindAccumulative: Accumulative{},
			KindNumErrors:    NumErrors{Mapping: cfg.ErrorMapping},
			KindRubric:       Rubric{},
			KindComments:     Comments{},
		},
	}
}

// Register adds or replaces the strategy for kind.
func (r *Registry) Register(kind string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[kind] = s
}

func (r *Registry) Get(kind string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	if !ok {
		return nil, apperr.Configuration("grading.Get", "unknown strategy %q", kind)
	}
	return s, nil
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PeerGrade looks up kind and applies it.
func (r *Registry) PeerGrade(kind string, dims []assessment.Dimension, grades []assessment.Grade) (*float64, error) {
	s, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(dims, grades); err != nil {
		return nil, err
	}
	g, ok := s.PeerGrade(dims, grades)
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// checkDimensions rejects grades on dimensions the form does not define.
func checkDimensions(dims []assessment.Dimension, grades []assessment.Grade) error {
	known := make(map[int64]struct{}, len(dims))
	for _, d := range dims {
		known[d.ID] = struct{}{}
	}
	for _, g := range grades {
		if _, ok := known[g.DimensionID]; !ok {
			return apperr.Integrity("grading.PeerGrade", "assessment %d grades unknown dimension %d", g.AssessmentID, g.DimensionID)
		}
	}
	return nil
}

func byDimension(grades []assessment.Grade) map[int64]assessment.Grade {
	m := make(map[int64]assessment.Grade, len(grades))
	for _, g := range grades {
		m[g.DimensionID] = g
	}
	return m
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

