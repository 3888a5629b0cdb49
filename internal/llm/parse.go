package llm

import (
	"regexp"
	"strings"
)

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\(?\d+[.)]|\(?[a-zA-Z][.)])\s+`)

// ParseParaphrases splits a model reply into at most n distinct variants,
// dropping list markers, quotes, blank lines and copies of original.
func ParseParaphrases(reply, original string, n int) []string {
	seen := map[string]bool{normalizeQuestion(original): true}

	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"'`+"`")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key := normalizeQuestion(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

func normalizeQuestion(q string) string {
	return strings.TrimRight(strings.ToLower(strings.Join(strings.Fields(q), " ")), "?.! ")
}

// ParseExtraction maps the NO_OUTPUT marker and blank replies to "".
func ParseExtraction(reply string) string {
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.EqualFold(strings.Trim(reply, ".` "), NoOutput) {
		return ""
	}
	return reply
}
