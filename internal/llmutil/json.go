// Package llmutil holds small helpers for handling text-generation
// output that is supposed to be JSON but often arrives wrapped in prose
// or markdown fences.
package llmutil

import (
	"errors"
	"fmt"
	"strings"
)

// JSONObject extracts the first JSON object from a completion, stripping
// markdown code fences and surrounding chatter.
func JSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("empty content")
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}

	return "", fmt.Errorf("could not locate JSON object in: %q", Truncate(t, 200))
}

// Truncate limits s to n runes for error messages and logs.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
