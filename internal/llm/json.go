package llm

import "strings"

// ExtractJSON pulls the first JSON object or array out of a completion.
// Models wrap JSON in markdown fences or prose despite instructions not
// to; callers unmarshal the returned slice and treat failures as a
// malformed response.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip a markdown fence if the whole payload is fenced.
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := -1
	var opening, closing byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			opening = text[i]
			closing = '}'
			if opening == '[' {
				closing = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	// Scan for the matching close bracket, skipping string literals.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case opening:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}
