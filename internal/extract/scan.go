package extract

import "strings"

const fence = "```"

// scanState tracks whether the scanner is inside a JSON string literal.
type scanState int

const (
	outsideString scanState = iota
	insideString
	escaped
)

// scanner is a byte-level state machine over JSON-ish text. It only
// understands double-quoted strings and backslash escapes, which is all that
// is needed to tell structural characters apart from string content.
type scanner struct {
	state scanState
}

// step advances the state machine by one byte and reports whether the byte
// was outside any string literal (and therefore structurally significant).
func (s *scanner) step(c byte) bool {
	switch s.state {
	case escaped:
		s.state = insideString
		return false
	case insideString:
		switch c {
		case '\\':
			s.state = escaped
		case '"':
			s.state = outsideString
		}
		return false
	default:
		if c == '"' {
			s.state = insideString
			return false
		}
		return true
	}
}

// fencedBody returns the content of the first fenced code block in text.
// Both fences are located with string tracking so that a fence marker
// embedded in a quoted value neither opens nor ends the block. ok is false
// when text holds no opening fence. An unterminated block yields everything
// after the opening line.
func fencedBody(text string) (body string, ok bool) {
	start := openingFence(text)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	// skip the optional language tag on the opening line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if !strings.ContainsAny(tag, "[{") {
			rest = rest[nl+1:]
		}
	}
	var sc scanner
	for i := 0; i < len(rest); i++ {
		if !sc.step(rest[i]) {
			continue
		}
		if rest[i] == '`' && strings.HasPrefix(rest[i:], fence) {
			return rest[:i], true
		}
	}
	return rest, true
}

// openingFence returns the index of the first fence that is not part of a
// string value, or -1. Scanning starts at the first bracket: quotes in the
// prose before it are not JSON and must not flip the string state.
func openingFence(text string) int {
	first := strings.Index(text, fence)
	if first < 0 {
		return -1
	}
	open := strings.IndexAny(text, "[{")
	if open < 0 || first < open {
		return first
	}
	var sc scanner
	for i := open; i < len(text); i++ {
		if sc.step(text[i]) && text[i] == '`' && strings.HasPrefix(text[i:], fence) {
			return i
		}
	}
	return -1
}

// balancedSpan returns the first bracketed value in text, starting at the
// first '[' or '{' and ending where depth returns to zero. complete is false
// when the text ends before the value closes; the span then runs to the end
// of the text.
func balancedSpan(text string) (start int, span string, complete bool) {
	start = strings.IndexAny(text, "[{")
	if start < 0 {
		return -1, "", false
	}
	var sc scanner
	stack := make([]byte, 0, 8)
	for i := start; i < len(text); i++ {
		c := text[i]
		if !sc.step(c) {
			continue
		}
		switch c {
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) == 0 {
				return start, text[start:i], false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return start, text[start : i+1], true
			}
		}
	}
	return start, text[start:], false
}

// wrapsWhole reports whether trimmed text starts with the opener of shape and
// ends with its closer.
func wrapsWhole(trimmed string, shape Shape) bool {
	if len(trimmed) < 2 {
		return false
	}
	openC, closeC := shape.brackets()
	return trimmed[0] == openC && trimmed[len(trimmed)-1] == closeC
}
