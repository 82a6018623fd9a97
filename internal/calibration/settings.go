package calibration

import (
	"github.com/tidwall/gjson"

	"github.com/mind-engage/mindengage-peer/internal/apperr"
)

// Settings tune one evaluation instance's calibration.
type Settings struct {
	ComparisonLevel  int `json:"comparison_level"`
	ConsistencyLevel int `json:"consistency_level"`
	// RequiredExamples is how many example assessments a reviewer must
	// complete; 0 means every example submission of the instance.
	RequiredExamples int `json:"required_examples"`
}

func (s Settings) Validate() error {
	if s.ComparisonLevel < MinLevel || s.ComparisonLevel > MaxLevel {
		return apperr.Configuration("calibration.settings", "comparison level %d outside %d..%d", s.ComparisonLevel, MinLevel, MaxLevel)
	}
	if s.ConsistencyLevel < MinLevel || s.ConsistencyLevel > MaxLevel {
		return apperr.Configuration("calibration.settings", "consistency level %d outside %d..%d", s.ConsistencyLevel, MinLevel, MaxLevel)
	}
	if s.RequiredExamples < 0 {
		return apperr.Configuration("calibration.settings", "required examples %d is negative", s.RequiredExamples)
	}
	return nil
}

// ParseSettings decodes a settings form payload. Levels may arrive as
// numbers or numeric strings; a missing level is a configuration error.
func ParseSettings(payload []byte) (Settings, error) {
	if !gjson.ValidBytes(payload) {
		return Settings{}, apperr.Configuration("calibration.settings", "payload is not JSON")
	}
	doc := gjson.ParseBytes(payload)
	comparison := doc.Get("comparison_level")
	consistency := doc.Get("consistency_level")
	if !comparison.Exists() {
		return Settings{}, apperr.Configuration("calibration.settings", "comparison_level missing")
	}
	if !consistency.Exists() {
		return Settings{}, apperr.Configuration("calibration.settings", "consistency_level missing")
	}
	s := Settings{
		ComparisonLevel:  int(comparison.Int()),
		ConsistencyLevel: int(consistency.Int()),
		RequiredExamples: int(doc.Get("required_examples").Int()),
	}
	return s, s.Validate()
}
