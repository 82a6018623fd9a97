// Package teameval scores intra-team peer evaluation and gates when the
// adjusted grades become visible.
package teameval

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

type Settings struct {
	Enabled bool `json:"enabled"`
	Public  bool `json:"public"`
	// Fraction is how much of the grade the evaluation may move (0..1).
	Fraction float64 `json:"fraction"`
	// NoncompletionPenalty is the multiplier lost by a user who answered
	// none of the completable questions (0..1).
	NoncompletionPenalty float64    `json:"noncompletion_penalty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	Autorelease          bool       `json:"autorelease"`
	IncludeSelf          bool       `json:"include_self"`
}

func DefaultSettings() Settings {
	return Settings{Enabled: true, Fraction: 0.5, NoncompletionPenalty: 0.1}
}

func (s Settings) Validate() error {
	if s.Fraction < 0 || s.Fraction > 1 {
		return apperr.Configuration("teameval.settings", "fraction %v outside 0..1", s.Fraction)
	}
	if s.NoncompletionPenalty < 0 || s.NoncompletionPenalty > 1 {
		return apperr.Configuration("teameval.settings", "noncompletion penalty %v outside 0..1", s.NoncompletionPenalty)
	}
	return nil
}

// DeadlinePassed reports whether a deadline is set and lies before now.
func (s Settings) DeadlinePassed(now time.Time) bool {
	return s.Deadline != nil && s.Deadline.Before(now)
}

// ParseSettings decodes a settings form payload on top of the defaults.
// The deadline is a unix timestamp; 0 or absent clears it.
func ParseSettings(payload []byte) (Settings, error) {
	if !gjson.ValidBytes(payload) {
		return Settings{}, apperr.Configuration("teameval.settings", "payload is not JSON")
	}
	s := DefaultSettings()
	doc := gjson.ParseBytes(payload)
	if v := doc.Get("enabled"); v.Exists() {
		s.Enabled = v.Bool()
	}
	s.Public = doc.Get("public").Bool()
	if v := doc.Get("fraction"); v.Exists() {
		s.Fraction = v.Float()
	}
	if v := doc.Get("noncompletion_penalty"); v.Exists() {
		s.NoncompletionPenalty = v.Float()
	}
	if ts := doc.Get("deadline").Int(); ts > 0 {
		d := time.Unix(ts, 0).UTC()
		s.Deadline = &d
	}
	s.Autorelease = doc.Get("autorelease").Bool()
	s.IncludeSelf = doc.Get("include_self").Bool()
	return s, s.Validate()
}
