package teameval

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

// Question is one item of an instance's team evaluation form. Config is the
// type-specific JSON configuration.
type Question struct {
	ID         int64  `json:"id"`
	InstanceID int64  `json:"instance_id"`
	Ordinal    int    `json:"ordinal"`
	Type       string `json:"type"`
	Config     []byte `json:"config,omitempty"`
}

// Response is one marker's answer to one question.
type Response interface {
	// MarksGiven reports whether the marker actually answered.
	MarksGiven() bool
	// OpinionOf is the marker's opinion of target in 0..1; ok is false when
	// the response says nothing about target.
	OpinionOf(target int64) (opinion float64, ok bool)
}

// QuestionType is the behavior shared by every question of one type.
type QuestionType interface {
	// HasCompletion reports whether answering counts toward completion.
	HasCompletion() bool
	HasFeedback() bool
	Decode(q Question, payload []byte) (Response, error)
}

const (
	TypeLikert  = "likert"
	TypeSplit   = "split"
	TypeComment = "comment"
)

// QuestionTypes resolves a question's type tag.
type QuestionTypes struct {
	mu    sync.RWMutex
	types map[string]QuestionType
}

// NewQuestionTypes installs the built-in question types.
func NewQuestionTypes() *QuestionTypes {
	return &QuestionTypes{types: map[string]QuestionType{
		TypeLikert:  Likert{},
		TypeSplit:   Split{},
		TypeComment: Comment{},
	}}
}

func (r *QuestionTypes) Register(tag string, t QuestionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[tag] = t
}

func (r *QuestionTypes) Get(tag string) (QuestionType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[tag]
	if !ok {
		return nil, apperr.Configuration("teameval.questions", "unknown question type %q", tag)
	}
	return t, nil
}

func (r *QuestionTypes) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for k := range r.types {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// userValues reads an object keyed by user id.
func userValues(payload []byte, path string) (map[int64]gjson.Result, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("response payload is not JSON")
	}
	out := map[int64]gjson.Result{}
	var bad error
	gjson.GetBytes(payload, path).ForEach(func(k, v gjson.Result) bool {
		id, err := strconv.ParseInt(k.String(), 10, 64)
		if err != nil {
			bad = fmt.Errorf("%s: user key %q: %w", path, k.String(), err)
			return false
		}
		out[id] = v
		return true
	})
	return out, bad
}

// Likert rates every teammate on a min..max scale (default 1..5).
// Payload: {"marks": {"<user id>": n}}.
type Likert struct{}

func (Likert) HasCompletion() bool { return true }
func (Likert) HasFeedback() bool   { return false }

func (Likert) Decode(q Question, payload []byte) (Response, error) {
	lo, hi := 1.0, 5.0
	if len(q.Config) > 0 {
		if v := gjson.GetBytes(q.Config, "min"); v.Exists() {
			lo = v.Float()
		}
		if v := gjson.GetBytes(q.Config, "max"); v.Exists() {
			hi = v.Float()
		}
	}
	if hi <= lo {
		return nil, apperr.Configuration("teameval.likert", "question %d has empty scale %v..%v", q.ID, lo, hi)
	}
	marks, err := userValues(payload, "marks")
	if err != nil {
		return nil, err
	}
	r := likertResponse{opinions: make(map[int64]float64, len(marks))}
	for uid, v := range marks {
		r.opinions[uid] = clamp01((v.Float() - lo) / (hi - lo))
	}
	return r, nil
}

type likertResponse struct{ opinions map[int64]float64 }

func (r likertResponse) MarksGiven() bool { return len(r.opinions) > 0 }

func (r likertResponse) OpinionOf(target int64) (float64, bool) {
	v, ok := r.opinions[target]
	return v, ok
}

// Split divides a fixed total among the team. A fair share is opinion 1.
// Payload: {"split": {"<user id>": share}}.
type Split struct{}

func (Split) HasCompletion() bool { return true }
func (Split) HasFeedback() bool   { return false }

func (Split) Decode(_ Question, payload []byte) (Response, error) {
	shares, err := userValues(payload, "split")
	if err != nil {
		return nil, err
	}
	r := splitResponse{opinions: make(map[int64]float64, len(shares))}
	total := 0.0
	for _, v := range shares {
		total += v.Float()
	}
	if total <= 0 {
		return r, nil
	}
	n := float64(len(shares))
	for uid, v := range shares {
		r.opinions[uid] = clamp01(v.Float() / total * n)
	}
	return r, nil
}

type splitResponse struct{ opinions map[int64]float64 }

func (r splitResponse) MarksGiven() bool { return len(r.opinions) > 0 }

func (r splitResponse) OpinionOf(target int64) (float64, bool) {
	v, ok := r.opinions[target]
	return v, ok
}

// Comment is feedback only: it never counts toward completion and holds no
// opinion. Payload: {"comments": {"<user id>": "text"}}.
type Comment struct{}

func (Comment) HasCompletion() bool { return false }
func (Comment) HasFeedback() bool   { return true }

func (Comment) Decode(_ Question, payload []byte) (Response, error) {
	comments, err := userValues(payload, "comments")
	if err != nil {
		return nil, err
	}
	r := commentResponse{text: make(map[int64]string, len(comments))}
	for uid, v := range comments {
		r.text[uid] = v.String()
	}
	return r, nil
}

type commentResponse struct{ text map[int64]string }

func (r commentResponse) MarksGiven() bool                 { return len(r.text) > 0 }
func (commentResponse) OpinionOf(int64) (float64, bool)   { return 0, false }
func (r commentResponse) FeedbackFor(target int64) string { return r.text[target] }

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
