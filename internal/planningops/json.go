package planningops

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractBalancedArray returns the first balanced top-level JSON array
// found in s, tolerating leading/trailing prose and ```-fenced code
// blocks. It mirrors internal/jsonx.ExtractBalancedObject's brace-matching
// approach, generalized to '['/']' since discovery-question and
// decision-point generation both produce bare JSON arrays.
func extractBalancedArray(s string) (string, error) {
	s = stripFences(s)

	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", fmt.Errorf("planningops: no JSON array found")
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

	return "", fmt.Errorf("planningops: unbalanced JSON array")
}

// stripFences removes a single leading/trailing ```-delimited code fence,
// optionally tagged with a language (```json).
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

// decodeArray strictly unmarshals a balanced JSON array into a []T,
// rejecting unknown fields on each element.
func decodeArray[T any](arr string) ([]T, error) {
	dec := json.NewDecoder(strings.NewReader(arr))
	dec.DisallowUnknownFields()
	var out []T
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("planningops: decode: %w", err)
	}
	return out, nil
}
