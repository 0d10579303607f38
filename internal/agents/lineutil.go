package agents

import (
	"strings"
	"unicode"
)

// splitLines splits content into lines without trailing newline characters.
// A trailing newline does not produce an extra empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	return strings.Split(content, "\n")
}

// isCommentLine reports whether a line is a whole-line comment in Python
// or JavaScript/TypeScript.
func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "/*") ||
		strings.HasPrefix(trimmed, "* ")
}

// indentOf returns the width of the leading whitespace of line. Tabs count
// as a single column.
func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// isDocstringStart reports whether trimmed opens a Python string literal
// usable as a docstring.
func isDocstringStart(trimmed string) bool {
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"", "r", "u", "b", "rb", "br"} {
		rest, ok := strings.CutPrefix(lower, prefix)
		if !ok {
			continue
		}
		if strings.HasPrefix(rest, `"""`) || strings.HasPrefix(rest, `'''`) ||
			strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, `'`) {
			return true
		}
	}
	return false
}

// lineRanges collapses sorted line numbers into inclusive ranges.
func lineRanges(lines []int) [][2]int {
	var out [][2]int
	for _, n := range lines {
		if len(out) > 0 && out[len(out)-1][1]+1 == n {
			out[len(out)-1][1] = n
			continue
		}
		out = append(out, [2]int{n, n})
	}
	return out
}

// ruleID converts a tool rule code such as "reportMissingImports", "E501"
// or "W0611/unused_import" to a lowercase hyphenated identifier. It
// returns "" when nothing alphanumeric remains.
func ruleID(code string) string {
	runes := []rune(code)
	var b strings.Builder
	sep := false
	for i, r := range runes {
		if r > unicode.MaxASCII || (!unicode.IsLetter(r) && !unicode.IsDigit(r)) {
			sep = b.Len() > 0
			continue
		}
		if unicode.IsUpper(r) && i > 0 && b.Len() > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				sep = true
			}
		}
		if sep {
			b.WriteByte('-')
			sep = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
