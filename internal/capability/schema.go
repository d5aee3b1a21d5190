package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
)

// ParamType is the declared JSON type of a capability parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param describes one named argument a capability accepts.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// Args are the keyword arguments passed to a capability.
type Args map[string]any

// String returns a string argument or "" when absent or of another type.
func (a Args) String(name string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer argument, accepting JSON numbers and numeric strings.
func (a Args) Int(name string, def int) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

// Sanitized returns a copy safe for logs: long strings are clipped.
func (a Args) Sanitized() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		if s, ok := v.(string); ok && utf8.RuneCountInString(s) > 80 {
			v = helpers.Preview(s, 80)
		}
		out[k] = v
	}
	return out
}

// ArgIssue is one structural problem found in a call's arguments.
type ArgIssue struct {
	Param   string
	Message string
}

func (i ArgIssue) String() string {
	if i.Param == "" {
		return i.Message
	}
	return i.Param + ": " + i.Message
}

// schema is the compiled JSON Schema for a capability's Params.
type schema struct {
	params   []Param
	compiled *jsonschema.Schema
}

func compileSchema(name string, params []Param) (*schema, error) {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("capability %s: parameter without name", name)
		}
		t := p.Type
		if t == "" {
			t = TypeString
		}
		props[p.Name] = map[string]any{"type": string(t)}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	url := "mem://capability/" + name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("capability %s: add schema: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("capability %s: compile schema: %w", name, err)
	}
	return &schema{params: params, compiled: compiled}, nil
}

// check validates args structurally. It never blocks execution; the caller
// logs whatever comes back.
func (s *schema) check(args Args) []ArgIssue {
	if s == nil || s.compiled == nil {
		return nil
	}
	var issues []ArgIssue
	for _, p := range s.params {
		if _, ok := args[p.Name]; p.Required && !ok {
			issues = append(issues, ArgIssue{Param: p.Name, Message: "required argument missing"})
		}
	}
	// round-trip through JSON so Go ints and json.Number validate as numbers
	raw, err := json.Marshal(args)
	if err != nil {
		return append(issues, ArgIssue{Message: "arguments not serializable: " + err.Error()})
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return append(issues, ArgIssue{Message: err.Error()})
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := s.compiled.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for _, leaf := range leaves(ve) {
				if strings.Contains(leaf.Message, "missing properties") {
					continue // already reported per parameter above
				}
				issues = append(issues, ArgIssue{Param: strings.TrimPrefix(leaf.InstanceLocation, "/"), Message: leaf.Message})
			}
		} else {
			issues = append(issues, ArgIssue{Message: err.Error()})
		}
	}
	return issues
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}
