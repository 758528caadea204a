package styleguide

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// Parse extracts a StyleGuide from raw model output. Models wrap JSON
// in prose and code fences often enough that parsing is lenient: the
// fenced block is unwrapped, and malformed JSON goes through a repair
// pass before giving up.
//
// A parse failure or an invalid guide is a ValidationFailure; the
// caller re-prompts with the violation text rather than retrying the
// identical request.
func Parse(raw string) (*StyleGuide, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, errors.Wrap(errors.ClassValidation, "no JSON object found in style guide response", errors.ErrSchemaViolation)
	}

	var guide StyleGuide
	if err := json.Unmarshal([]byte(candidate), &guide); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, errors.Wrap(errors.ClassValidation, "style guide response is not valid JSON", err)
		}
		if err := json.Unmarshal([]byte(repaired), &guide); err != nil {
			return nil, errors.Wrap(errors.ClassValidation, "style guide response is not valid JSON after repair", err)
		}
	}

	if err := guide.Validate(); err != nil {
		return nil, errors.Wrap(errors.ClassValidation, "style guide failed validation", err)
	}
	return &guide, nil
}

// extractJSON unwraps markdown code fences and trims surrounding prose
// down to the outermost JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		} else {
			s = strings.TrimSpace(rest)
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
