package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/extract"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
	"github.com/LifeContext/lifecontext-sub000/internal/metrics"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

// Catalog is the planner's view of the capability registry.
type Catalog interface {
	Describe() []capability.Card
	Has(name string) bool
}

const plannerSystemPrompt = `You are the planning step of a personal assistant that answers questions about the user's own life: their tasks, schedule, saved tips, memories and recent conversations.
Pick the capabilities whose output would help answer the question and that have not already been called with the same arguments.
Return JSON only:
{"rationale": "one sentence", "tool_calls": [{"name": "capability_name", "arguments": {...}}]}
Return an empty "tool_calls" list when the context already covers the question or nothing else would help.`

// Planner decides which capabilities to call in each round.
type Planner struct {
	gen      generator
	catalog  Catalog
	maxCalls int
	logger   *zap.Logger
}

func NewPlanner(gen generator, catalog Catalog, maxCalls int, logger *zap.Logger) *Planner {
	if maxCalls <= 0 {
		maxCalls = 5
	}
	return &Planner{gen: gen, catalog: catalog, maxCalls: maxCalls, logger: logger.Named("planner")}
}

// Plan returns the calls for round iteration. Round 1 always fetches the
// baseline profile without consulting the model. An empty result means the
// planner has nothing more to gather.
func (p *Planner) Plan(ctx context.Context, intent Intent, cc *ContextCollection, iteration int, req Request) ([]ToolCall, string) {
	if iteration <= 1 {
		return []ToolCall{baselineCall(intent, req)}, "baseline profile"
	}

	cards := p.catalog.Describe()
	cardsJSON, _ := json.Marshal(cards)
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s\n", intent.Query)
	if rq := intent.RetrievalQuery(); rq != intent.Query {
		fmt.Fprintf(&b, "RETRIEVAL QUERY: %s\n", rq)
	}
	fmt.Fprintf(&b, "INTENT: %s\nROUND: %d\n\nCAPABILITIES:\n%s\n\nCONTEXT SO FAR:\n", intent.Type, iteration, cardsJSON)
	if cc.Len() == 0 {
		b.WriteString("(none)\n")
	}
	for i, it := range cc.Head(10) {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i, it.Source, helpers.Preview(it.Content, 200))
	}
	fmt.Fprintf(&b, "\nAt most %d calls.", p.maxCalls)

	out, err := p.gen.complete(ctx, "plan", types.CompletionRequest{
		Messages:        messages(plannerSystemPrompt, b.String()),
		ZeroTemperature: true,
		MaxTokens:       600,
	})
	if err != nil {
		p.logger.Warn("planning call failed, ending gathering", zap.Int("iteration", iteration), zap.Error(err))
		return nil, ""
	}

	rationale := ""
	if obj, ok := extract.Parse(out, extract.ShapeObject, "").(map[string]any); ok {
		rationale, _ = obj["rationale"].(string)
	}
	raw, ok := extract.Parse(out, extract.ShapeArray, "tool_calls").([]any)
	if !ok {
		metrics.ParseFailures.WithLabelValues("plan").Inc()
		p.logger.Debug("unparseable plan", zap.String("reply", helpers.Preview(out, 200)))
		return nil, rationale
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, entry := range raw {
		call, ok := p.toCall(entry)
		if !ok {
			continue
		}
		if len(calls) == p.maxCalls {
			p.logger.Debug("plan truncated", zap.Int("planned", len(raw)), zap.Int("cap", p.maxCalls))
			break
		}
		calls = append(calls, call)
	}
	return calls, rationale
}

func (p *Planner) toCall(entry any) (ToolCall, bool) {
	m, ok := entry.(map[string]any)
	if !ok {
		return ToolCall{}, false
	}
	name := firstString(m, "name", "function_name", "function", "tool")
	if fn, ok := m["function"].(map[string]any); ok && name == "" {
		// {"function": {"name": ..., "arguments": ...}}
		m = fn
		name = firstString(fn, "name")
	}
	if name == "" {
		return ToolCall{}, false
	}
	if !p.catalog.Has(name) {
		p.logger.Debug("dropping unknown capability from plan", zap.String("capability", name))
		return ToolCall{}, false
	}
	args := map[string]interface{}{}
keys:
	for _, k := range []string{"arguments", "args", "parameters"} {
		switch v := m[k].(type) {
		case map[string]any:
			args = v
			break keys
		case string:
			if obj, ok := extract.Parse(v, extract.ShapeObject, "").(map[string]any); ok {
				args = obj
				break keys
			}
		}
	}
	return ToolCall{ID: uuid.NewString(), FunctionName: name, Arguments: args}, true
}

func baselineCall(intent Intent, req Request) ToolCall {
	args := map[string]interface{}{
		"query":      intent.RetrievalQuery(),
		"session_id": req.SessionID,
	}
	if req.PageContext != nil && req.PageContext.URL != "" {
		args["page_url"] = req.PageContext.URL
	}
	return ToolCall{ID: uuid.NewString(), FunctionName: BaselineCapability, Arguments: args}
}

// injectSession pins every call to the request session: a planned
// session_id is overwritten, never trusted. Baseline calls also get
// session_id and page_url when they omit them.
func injectSession(calls []ToolCall, req Request) {
	for i := range calls {
		if _, ok := calls[i].Arguments["session_id"]; ok {
			calls[i].Arguments["session_id"] = req.SessionID
		}
		if calls[i].FunctionName != BaselineCapability {
			continue
		}
		if calls[i].Arguments == nil {
			calls[i].Arguments = map[string]interface{}{}
		}
		calls[i].Arguments["session_id"] = req.SessionID
		if _, ok := calls[i].Arguments["page_url"]; !ok && req.PageContext != nil && req.PageContext.URL != "" {
			calls[i].Arguments["page_url"] = req.PageContext.URL
		}
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
