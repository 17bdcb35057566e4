// internal/llmutil/parser.go
package llmutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject is returned when a response contains no brace-delimited object.
var ErrNoJSONObject = errors.New("no JSON object found in model response")

// ExtractJSONObject returns the span from the first '{' to the last '}' of the
// response. Models tend to wrap the object in markdown fences or chatter, and
// this recovers it in both cases.
func ExtractJSONObject(response string) (string, error) {
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first == -1 || last == -1 || last < first {
		return "", ErrNoJSONObject
	}
	return response[first : last+1], nil
}

// ParseJSONObject extracts the JSON object embedded in an LLM response and
// unmarshals it into T.
func ParseJSONObject[T any](response string) (*T, error) {
	raw, err := ExtractJSONObject(response)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// Provide a detailed error message including the extracted JSON snippet.
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(raw, 500))
	}
	return &result, nil
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
