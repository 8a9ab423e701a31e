package director

import (
	"encoding/json"
	"strings"
)

// narrativeParts decodes the narrative field leniently. Models are asked
// for an array of paragraph strings but sometimes return a JSON-encoded
// string instead of a native array, or a single unsegmented string. The
// recovery ladder: native array, then JSON-parse a bracketed string, then
// manual quoted-segment extraction tolerant of escaped quotes, then wrap
// the raw string whole.
type narrativeParts []string

func (n *narrativeParts) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err == nil {
		*n = parts
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Neither array nor string; let the caller's schema check fail.
		return err
	}
	*n = recoverParts(s)
	return nil
}

// recoverParts turns a string that should have been an array into one.
func recoverParts(s string) []string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var parts []string
		if err := json.Unmarshal([]byte(trimmed), &parts); err == nil && len(parts) > 0 {
			return parts
		}
		if parts := extractQuoted(trimmed); len(parts) > 0 {
			return parts
		}
	}
	return []string{s}
}

// extractQuoted pulls double-quoted segments out of malformed array text,
// honoring backslash escapes. It is the last resort before wrapping the
// whole string.
func extractQuoted(s string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	escaped := false

	for _, r := range s {
		if escaped {
			switch r {
			case 'n':
				current.WriteRune('\n')
			case 't':
				current.WriteRune('\t')
			default:
				current.WriteRune(r)
			}
			escaped = false
			continue
		}
		switch {
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			if inQuote {
				if current.Len() > 0 {
					parts = append(parts, current.String())
				}
				current.Reset()
			}
			inQuote = !inQuote
		case inQuote:
			current.WriteRune(r)
		}
	}
	return parts
}
