// Package formatting extracts structured values from free-form model replies.
package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParseFailed is returned when no JSON value in the content decodes into the target.
var ErrParseFailed = errors.New("failed to parse response")

var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

const maxEchoedContent = 200

// Parse unmarshals content as JSON into T. When the reply wraps the JSON in a
// markdown fence or surrounds it with prose, the fenced block and then the
// outermost {...} or [...] span are tried in turn.
func Parse[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)
	if content == "" {
		return result, fmt.Errorf("%w: empty content", ErrParseFailed)
	}

	for _, candidate := range candidates(content) {
		var v T
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v, nil
		}
	}

	return result, fmt.Errorf("%w: %s", ErrParseFailed, truncate(content, maxEchoedContent))
}

func candidates(content string) []string {
	out := []string{content}

	if m := jsonBlockRegex.FindStringSubmatch(content); len(m) >= 2 {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if span, ok := outerSpan(content, '{', '}'); ok {
		out = append(out, span)
	}
	if span, ok := outerSpan(content, '[', ']'); ok {
		out = append(out, span)
	}
	return out
}

func outerSpan(s string, open, closing byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
