package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a surrounding ```json ... ``` (or bare ```) fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON strips fences and unmarshals into v. Errors wrap ErrMalformed.
func DecodeJSON(raw string, v any) error {
	s := StripFences(raw)
	if s == "" {
		return fmt.Errorf("%w: empty", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// RecoverAnswer salvages the objects of an "answer" array from output that was
// cut off mid-document: it keeps the text from the first '[' through the last
// complete '}' and closes the array.
func RecoverAnswer(raw string) ([]map[string]any, bool) {
	if !strings.Contains(raw, "answer") {
		return nil, false
	}
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, false
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]+"]"), &items); err != nil {
		return nil, false
	}
	return items, true
}
