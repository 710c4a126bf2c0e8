package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON object can be recovered from model output
var ErrNoJSON = errors.New("no JSON object in model output")

var (
	jsonFence  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	plainFence = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// candidates lists the substrings of raw that may hold the JSON payload,
// most likely first.
func candidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	out := []string{raw}
	if m := jsonFence.FindStringSubmatch(raw); m != nil {
		out = append(out, m[1])
	}
	if m := plainFence.FindStringSubmatch(raw); m != nil {
		out = append(out, m[1])
	}
	if i, j := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}'); i >= 0 && j > i {
		out = append(out, raw[i:j+1])
	}
	return out
}

// Decode unmarshals model output into v, tolerating code fences and prose
// around the JSON object.
func Decode(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty output", ErrNoJSON)
	}
	for _, c := range candidates(raw) {
		if !json.Valid([]byte(c)) {
			continue
		}
		if err := json.Unmarshal([]byte(c), v); err != nil {
			return fmt.Errorf("%w: %v", ErrNoJSON, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNoJSON, truncate(raw, 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ParseObject recovers a JSON object from model output
func ParseObject(raw string) (map[string]any, error) {
	var obj map[string]any
	if err := Decode(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: null", ErrNoJSON)
	}
	return obj, nil
}
