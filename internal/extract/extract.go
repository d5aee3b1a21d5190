// Package extract recovers structured values from free-form model output.
//
// Model replies routinely wrap JSON in prose or code fences, nest fenced
// snippets inside string values, or emit near-valid JSON with trailing
// commas and stray quotes. Parse tolerates all of these and never panics;
// callers get nil (or an empty array) and choose their own default.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Shape is the bracket type a caller expects.
type Shape int

const (
	ShapeArray Shape = iota
	ShapeObject
)

func (s Shape) String() string {
	if s == ShapeArray {
		return "array"
	}
	return "object"
}

func (s Shape) brackets() (byte, byte) {
	if s == ShapeArray {
		return '[', ']'
	}
	return '{', '}'
}

// ListKeys are the object keys tried, in order, when an array is expected
// but the model returned an object wrapping it.
var ListKeys = []string{"items", "results", "data", "tools", "tool_calls", "calls", "tasks", "conflicts", "list", "entries"}

const maxSpanAttempts = 8

// ErrNoValue is reported when no bracketed value could be located.
var ErrNoValue = errors.New("no structured value in text")

// ParseError keeps the raw model text next to the failure for diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("extract: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Parse returns the value recovered from text, or nil when nothing usable
// was found. When key is non-empty and the value is an object, the value at
// key is returned instead. When shape is ShapeArray and an object came back,
// the first list-valued entry among ListKeys is returned, else an empty
// slice.
func Parse(text string, shape Shape, key string) any {
	v, _ := Decode(text, shape, key)
	return v
}

// Decode is Parse with the failure reason attached. The returned error is
// always a *ParseError.
func Decode(text string, shape Shape, key string) (any, error) {
	v, err := locate(text, shape)
	if err != nil {
		return nil, &ParseError{Raw: text, Err: err}
	}
	return project(v, shape, key), nil
}

// ParseInto decodes the recovered value into dst using encoding/json
// semantics.
func ParseInto(text string, shape Shape, key string, dst any) error {
	v, err := Decode(text, shape, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return &ParseError{Raw: text, Err: err}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ParseError{Raw: text, Err: err}
	}
	return nil
}

func locate(text string, shape Shape) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrNoValue
	}
	if wrapsWhole(trimmed, shape) {
		if v, err := decodeStrict(trimmed); err == nil {
			return v, nil
		}
	}
	if body, ok := fencedBody(trimmed); ok {
		body = strings.TrimSpace(body)
		v, err := scanSpans(body)
		if err == nil {
			return v, nil
		}
		// the block may have been prose; retry on the whole text
		if v, err2 := scanSpans(trimmed); err2 == nil {
			return v, nil
		}
		return nil, err
	}
	return scanSpans(trimmed)
}

// scanSpans decodes the first bracketed span of candidate that parses,
// skipping at most maxSpanAttempts false starts.
func scanSpans(candidate string) (any, error) {
	var firstErr error
	for attempt := 0; attempt < maxSpanAttempts && candidate != ""; attempt++ {
		start, span, complete := balancedSpan(candidate)
		if start < 0 {
			break
		}
		if complete {
			if v, err := decodeStrict(span); err == nil {
				return v, nil
			}
		}
		v, err := decodeTolerant(span)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		// prose such as "[note]" can precede the real value
		candidate = candidate[start+1:]
	}
	if firstErr == nil {
		firstErr = ErrNoValue
	}
	return nil, firstErr
}

func decodeStrict(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeTolerant(span string) (any, error) {
	fixed := repair(span)
	v, err := decodeStrict(fixed)
	if err == nil {
		return v, nil
	}
	var loose any
	if err5 := json5.Unmarshal([]byte(span), &loose); err5 == nil {
		return loose, nil
	}
	if err5 := json5.Unmarshal([]byte(fixed), &loose); err5 == nil {
		return loose, nil
	}
	return nil, err
}

func project(v any, shape Shape, key string) any {
	obj, isObj := v.(map[string]any)
	if key != "" && isObj {
		if inner, ok := obj[key]; ok {
			return inner
		}
		if list := detectList(obj); list != nil {
			return list
		}
		if shape == ShapeArray {
			return []any{}
		}
		return nil
	}
	if shape == ShapeArray && isObj {
		if list := detectList(obj); list != nil {
			return list
		}
		return []any{}
	}
	return v
}

func detectList(obj map[string]any) []any {
	for _, k := range ListKeys {
		if list, ok := obj[k].([]any); ok {
			return list
		}
	}
	return nil
}
