package sqlgen

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	sqlBlockPattern    = regexp.MustCompile(`(?is)<sql>(.*?)</sql>`)
	configBlockPattern = regexp.MustCompile(`(?is)<config>(.*?)</config>`)
	fenceOpenPattern   = regexp.MustCompile("```[A-Za-z0-9_+-]*[ \t]*\r?\n")

	// leading fence tagged sql, followed by a space or a line break
	sqlFencePattern = regexp.MustCompile("^```(?i:sql)(?:[ \t]+|\r?\n|$)")
)

// ExtractSQL returns the statement enclosed in the first <sql> block. When
// there is none, the whole response is used after removing code fences and
// any <config> block.
func ExtractSQL(text string) string {
	if m := sqlBlockPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	text = configBlockPattern.ReplaceAllString(text, "")
	return StripFences(text)
}

// StripFences removes markdown code fence markers, with or without a
// language tag.
func StripFences(text string) string {
	text = sqlFencePattern.ReplaceAllString(strings.TrimSpace(text), "")
	text = fenceOpenPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// HasConfig reports whether the response carries a <config> block.
func HasConfig(text string) bool {
	return configBlockPattern.MatchString(text)
}

// ExtractConfig reads used_memory from the <config> block. Absence, invalid
// JSON or a non-boolean value all read as false.
func ExtractConfig(text string) bool {
	m := configBlockPattern.FindStringSubmatch(text)
	if m == nil {
		return false
	}

	var cfg map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &cfg); err != nil {
		return false
	}
	used, ok := cfg["used_memory"].(bool)
	return ok && used
}

// normalizeResponse renders the output contract for a response that did not
// follow it.
func normalizeResponse(sql string, usedMemory bool) string {
	cfg, _ := json.Marshal(map[string]bool{"used_memory": usedMemory})
	return "<sql>" + sql + "</sql><config>" + string(cfg) + "</config>"
}

// parseQuestionList reads a JSON array of strings. Responses that are not
// JSON fall back to one question per non-empty line with list markers and
// numbering removed.
func parseQuestionList(text string) []string {
	body := StripFences(text)
	if start, end := strings.Index(body, "["), strings.LastIndex(body, "]"); start >= 0 && end > start {
		var list []string
		if err := json.Unmarshal([]byte(body[start:end+1]), &list); err == nil {
			return compact(list)
		}
	}

	var out []string
	for _, line := range strings.Split(body, "\n") {
		out = append(out, listMarkerPattern.ReplaceAllString(strings.TrimSpace(line), ""))
	}
	return compact(out)
}

var listMarkerPattern = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)

func compact(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
