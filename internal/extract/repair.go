package extract

import (
	"strings"
)

var smartQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// repair rewrites near-valid JSON into something encoding/json accepts:
// smart quotes become plain quotes, raw newlines inside strings are escaped,
// quotes that cannot close a string are escaped, stray quotes after a
// finished string are dropped, trailing commas before a closer are removed
// and unmatched openers are closed at the end.
func repair(s string) string {
	s = smartQuotes.Replace(s)
	var (
		b       strings.Builder
		inStr   bool
		escape  bool
		stack   []byte
		lastSig byte // last structural byte written outside a string
	)
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escape:
				escape = false
				b.WriteByte(c)
			case c == '\\':
				escape = true
				b.WriteByte(c)
			case c == '"':
				if closesString(s, i+1) {
					inStr = false
					lastSig = '"'
					b.WriteByte(c)
				} else {
					b.WriteString(`\"`)
				}
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch c {
		case '"':
			if lastSig == '"' {
				// a second quote right after a closed string is stray
				continue
			}
			inStr = true
			b.WriteByte(c)
			continue
		case ',':
			if next := nextSignificant(s, i+1); next == ']' || next == '}' || next == 0 {
				continue
			}
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
		if !isSpace(c) {
			lastSig = c
		}
		b.WriteByte(c)
	}
	if inStr {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '[' {
			b.WriteByte(']')
		} else {
			b.WriteByte('}')
		}
	}
	return b.String()
}

// closesString decides whether a quote at position i-1 terminates the string
// by looking at what follows it.
func closesString(s string, i int) bool {
	switch nextSignificant(s, i) {
	case ',', ':', '}', ']', 0:
		return true
	case '"':
		// `"a""` style doubled quote; the scanner drops the second one
		return true
	}
	return false
}

func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}
