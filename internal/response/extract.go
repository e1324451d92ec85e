package response

import "strings"

// extractJSON pulls the JSON payload out of a raw model response. A fenced
// json block wins; otherwise the outermost braced object is located with a
// brace counter that respects string literals and escapes. Returns "" when
// no payload is found.
func ExtractJSON(raw string) string {
	if fenced := extractFenced(raw); fenced != "" {
		return fenced
	}
	return extractBraced(raw)
}

func extractFenced(raw string) string {
	lower := strings.ToLower(raw)
	start := strings.Index(lower, "```json")
	if start < 0 {
		return ""
	}
	body := raw[start+len("```json"):]
	end := strings.Index(body, "```")
	if end < 0 {
		// Unterminated fence: take the rest and let the brace scan
		// find the object inside it.
		return extractBraced(body)
	}
	return strings.TrimSpace(body[:end])
}

func extractBraced(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
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
				return raw[start : i+1]
			}
		}
	}
	// Braces never balanced.
	return ""
}
