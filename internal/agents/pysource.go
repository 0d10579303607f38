package agents

import (
	"regexp"
	"strings"
)

// pyDef is a function or class header found in Python source.
type pyDef struct {
	Kind    string // "def" or "class"
	Name    string
	Line    int // 1-based line of the keyword
	EndLine int // 1-based line holding the closing colon
	Indent  int
	Params  []string
	Returns bool
	// Inline is code following the header colon on EndLine.
	Inline string
}

var defPattern = regexp.MustCompile(`^(\s*)(?:async\s+)?(def|class)\s+([A-Za-z_]\w*)`)

// stringMask marks lines that begin inside a triple-quoted string.
func stringMask(lines []string) []bool {
	mask := make([]bool, len(lines))
	open := ""
	for i, line := range lines {
		mask[i] = open != ""
		rest := line
		for {
			if open != "" {
				idx := strings.Index(rest, open)
				if idx < 0 {
					break
				}
				rest = rest[idx+3:]
				open = ""
				continue
			}
			if hash := strings.Index(rest, "#"); hash >= 0 && !strings.ContainsAny(rest[:hash], `"'`) {
				break
			}
			d, s := strings.Index(rest, `"""`), strings.Index(rest, `'''`)
			switch {
			case d < 0 && s < 0:
				rest = ""
			case s < 0 || (d >= 0 && d < s):
				open, rest = `"""`, rest[d+3:]
			default:
				open, rest = `'''`, rest[s+3:]
			}
			if rest == "" && open == "" {
				break
			}
		}
	}
	return mask
}

// scanDefs finds every def and class header in lines, following headers
// that span several lines.
func scanDefs(lines []string) []pyDef {
	mask := stringMask(lines)
	var defs []pyDef
	for i, line := range lines {
		if mask[i] {
			continue
		}
		m := defPattern.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		d := pyDef{
			Kind:   line[m[4]:m[5]],
			Name:   line[m[6]:m[7]],
			Line:   i + 1,
			Indent: m[3] - m[2],
		}
		if parseHeader(lines, i, m[1], &d) {
			defs = append(defs, d)
		}
	}
	return defs
}

// parseHeader walks from lines[start][col:] to the colon that closes the
// header, collecting the parameter list and return annotation.
func parseHeader(lines []string, start, col int, d *pyDef) bool {
	depth := 0
	var quote byte
	var params strings.Builder
	inParams, sawParams, afterParams := false, false, ""

	for li := start; li < len(lines) && li < start+200; li++ {
		text := lines[li]
		from := 0
		if li == start {
			from = col
		}
		for ci := from; ci < len(text); ci++ {
			c := text[ci]
			if quote != 0 {
				if c == '\\' {
					ci++
				} else if c == quote {
					quote = 0
				}
				if inParams {
					params.WriteByte(c)
				}
				continue
			}
			switch c {
			case '"', '\'':
				quote = c
			case '#':
				ci = len(text)
				continue
			case '(', '[', '{':
				depth++
				if depth == 1 && c == '(' && !sawParams {
					inParams, sawParams = true, true
					continue
				}
			case ')', ']', '}':
				depth--
				if depth == 0 && inParams {
					inParams = false
					continue
				}
			case ':':
				if depth == 0 {
					d.EndLine = li + 1
					d.Returns = strings.Contains(afterParams, "->")
					d.Inline = strings.TrimSpace(stripComment(text[ci+1:]))
					if d.Kind == "def" {
						d.Params = splitParams(params.String())
					}
					return true
				}
			}
			if inParams {
				params.WriteByte(c)
			} else if sawParams && depth == 0 {
				afterParams += string(c)
			}
		}
		if inParams {
			params.WriteByte('\n')
		}
	}
	return false
}

func stripComment(s string) string {
	if idx := strings.Index(s, "#"); idx >= 0 && !strings.ContainsAny(s[:idx], `"'`) {
		return s[:idx]
	}
	return s
}

// splitParams splits a parameter list on top-level commas.
func splitParams(list string) []string {
	var out []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(list); i++ {
		c := list[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(list[last:i]))
				last = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(list[last:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// pyParam is one parsed parameter.
type pyParam struct {
	Name      string
	Annotated bool
}

// parseParam interprets one entry of a parameter list. Bare "*" and "/"
// markers report ok=false.
func parseParam(raw string) (p pyParam, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" || raw == "/" {
		return pyParam{}, false
	}
	raw = strings.TrimLeft(raw, "*")
	colon := strings.Index(raw, ":")
	eq := strings.Index(raw, "=")
	p.Annotated = colon >= 0 && (eq < 0 || colon < eq)
	end := len(raw)
	if colon >= 0 {
		end = colon
	}
	if eq >= 0 && eq < end {
		end = eq
	}
	p.Name = strings.TrimSpace(raw[:end])
	return p, p.Name != ""
}
