// Package sanitizer cleans user supplied form fields before they are
// validated or stored.
package sanitizer

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer cleans a single form field
type InputSanitizer interface {
	// Clean trims the value, removes backslash escapes and HTML escapes what remains
	Clean(input string) string
}

// DefaultInputSanitizer implements InputSanitizer using bluemonday's strict policy
type DefaultInputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer creates a sanitizer that strips every tag
func NewInputSanitizer() *DefaultInputSanitizer {
	return &DefaultInputSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Clean applies trim, backslash removal and HTML escaping in that order
func (s *DefaultInputSanitizer) Clean(input string) string {
	if input == "" {
		return ""
	}

	result := strings.TrimSpace(input)
	result = StripSlashes(result)
	result = s.policy.Sanitize(result)

	return result
}

// StripSlashes removes one level of backslash escaping.
// A doubled backslash becomes a single one, a lone trailing backslash is dropped.
func StripSlashes(input string) string {
	if !strings.Contains(input, `\`) {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	escaped := false
	for _, r := range input {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
