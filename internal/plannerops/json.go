package plannerops

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractBalancedArray returns the first balanced top-level JSON array
// found in s, tolerating leading/trailing prose and ```-fenced code
// blocks. It mirrors internal/jsonx.ExtractBalancedObject's brace-matching
// approach, generalized to '['/']' since the Planner's agent-output
// contract is a bare JSON array rather than an object.
func extractBalancedArray(s string) (string, error) {
	s = stripFences(s)

	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", fmt.Errorf("plannerops: no JSON array found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("plannerops: unbalanced JSON array")
}

// stripFences removes a single leading/trailing ```-delimited code fence,
// optionally tagged with a language (```json), matching internal/jsonx's
// tolerance for fenced agent output.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	if strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// strictUnmarshalArray decodes arr into v, rejecting unknown fields on each
// element.
func strictUnmarshalArray(arr string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(arr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("plannerops: decode: %w", err)
	}
	return nil
}
