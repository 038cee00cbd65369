package agent

import (
	"fmt"
	"strings"
)

// ExtractJSONArray pulls the first JSON array out of agent output,
// tolerating markdown fences and surrounding prose.
func ExtractJSONArray(raw string) (string, error) {
	cleaned := stripFences(raw)
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON array found in response: %s", truncate(cleaned, 200))
	}
	return cleaned[start : end+1], nil
}

// ExtractJSONObject pulls the first JSON object out of agent output.
func ExtractJSONObject(raw string) (string, error) {
	cleaned := stripFences(raw)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", truncate(cleaned, 200))
	}
	return cleaned[start : end+1], nil
}

// stripFences removes markdown code fence lines.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
