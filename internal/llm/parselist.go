package llm

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// DoneSentinel is the literal a planner emits to signal that further
// iterations would not improve the answer.
const DoneSentinel = "<done>"

// ParseList normalizes a raw model response into a ListResult. The rules,
// shared by every backend:
//
//  1. Surrounding fenced code blocks (``` or ```python and the like) are
//     stripped.
//  2. The literal "<done>" maps to the sentinel.
//  3. Otherwise the text must be a one-line list literal of quoted strings,
//     e.g. ['a', "b"]. Anything that fails to parse yields an empty list,
//     logged, never an error.
func ParseList(raw string) ListResult {
	text := stripCodeFences(strings.TrimSpace(raw))
	if text == DoneSentinel {
		return ListResult{Done: true}
	}
	items, ok := parseStringList(text)
	if !ok {
		log.Warn().Str("response", truncateForLog(raw)).Msg("model response did not parse as a list")
		return ListResult{}
	}
	return ListResult{Items: items}
}

// stripCodeFences removes a single surrounding fenced block, tolerating a
// language tag on the opening fence.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		first := strings.TrimSpace(body[:nl])
		// Opening fence may carry a language tag like "python".
		if first == "" || isIdentifier(first) {
			body = body[nl+1:]
		}
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

func isIdentifier(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return false
		}
	}
	return len(s) > 0
}

// parseStringList parses a Python-style list literal of strings. Both quote
// styles and backslash escapes are accepted. Non-list literals and lists
// containing non-string elements fail the parse.
func parseStringList(s string) ([]string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, false
	}
	inner := s[1 : len(s)-1]
	items := []string{}
	i := 0
	for {
		for i < len(inner) && isSpace(inner[i]) {
			i++
		}
		if i >= len(inner) {
			break
		}
		quote := inner[i]
		if quote != '\'' && quote != '"' {
			return nil, false
		}
		i++
		var b strings.Builder
		closed := false
		for i < len(inner) {
			c := inner[i]
			if c == '\\' && i+1 < len(inner) {
				b.WriteByte(unescape(inner[i+1]))
				i += 2
				continue
			}
			if c == quote {
				closed = true
				i++
				break
			}
			b.WriteByte(c)
			i++
		}
		if !closed {
			return nil, false
		}
		items = append(items, b.String())
		for i < len(inner) && isSpace(inner[i]) {
			i++
		}
		if i >= len(inner) {
			break
		}
		if inner[i] != ',' {
			return nil, false
		}
		i++
	}
	return items, true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
