// Package jsonx extracts and validates JSON objects from agent output that
// may be wrapped in prose, fenced code blocks, or a CLI's own JSON envelope.
// It implements the extraction half of the trust boundary described in
// SPEC_FULL.md: every external agent response is decoded through here before
// a typed sum (value | ValidationError) crosses into the rest of the system.
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractBalancedObject returns the first balanced top-level JSON object
// found in s, tolerating leading/trailing prose and ```json fences. It scans
// for the first '{' and tracks brace depth (respecting quoted strings and
// escape sequences) to find the matching '}', rather than naively using the
// last '}' in the string, so trailing prose after the object does not
// confuse extraction.
func ExtractBalancedObject(s string) (string, error) {
	s = stripFences(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("jsonx: no JSON object found")
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("jsonx: unbalanced JSON object")
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

// DecodeInto extracts the first balanced JSON object from raw and unmarshals
// it into v. Unknown fields are rejected so schema drift is caught early.
func DecodeInto(raw string, v interface{}) error {
	obj, err := ExtractBalancedObject(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("jsonx: decode: %w", err)
	}
	return nil
}

// CLIEnvelope mirrors the common wrapper shape emitted by CLI-backed agent
// runners: a top-level object carrying session_id plus one of
// structured_output / result / content holding the agent's actual answer.
type CLIEnvelope struct {
	SessionID string `json:"session_id"`
	Content   string
}

// ParseEnvelope extracts (content, sessionID) from a raw agent-runner
// response, preferring structured_output, then result, then content, and
// finally falling back to balanced-object extraction over the raw text.
func ParseEnvelope(raw []byte) (CLIEnvelope, error) {
	var top map[string]interface{}
	if err := json.Unmarshal(raw, &top); err != nil {
		obj, extractErr := ExtractBalancedObject(string(raw))
		if extractErr != nil {
			return CLIEnvelope{}, fmt.Errorf("jsonx: envelope not JSON and no object found: %w", err)
		}
		return CLIEnvelope{Content: obj}, nil
	}

	env := CLIEnvelope{}
	if sid, ok := top["session_id"].(string); ok {
		env.SessionID = sid
	}

	if structured, ok := top["structured_output"]; ok && structured != nil {
		if m, isMap := structured.(map[string]interface{}); isMap && len(m) > 0 {
			if b, err := json.Marshal(structured); err == nil {
				env.Content = string(b)
				return env, nil
			}
		}
	}

	if result, ok := top["result"].(string); ok && result != "" {
		env.Content = result
		return env, nil
	}

	if content, ok := top["content"].(string); ok && content != "" {
		env.Content = content
		return env, nil
	}

	if obj, err := ExtractBalancedObject(string(raw)); err == nil {
		env.Content = obj
	}

	return env, nil
}
