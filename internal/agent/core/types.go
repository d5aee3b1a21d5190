package core

import (
	"time"

	"go.uber.org/zap"
)

// Reserved sources for items that do not come from a capability.
const (
	SourcePageContext   = "page_context"
	SourceSessionMemory = "session_memory"
)

// BaselineCapability is the profile lookup every tool-enabled query starts with.
const BaselineCapability = "get_user_profile"

// IntentType is the coarse request class derived from the query text.
type IntentType string

const (
	IntentSchedule IntentType = "schedule"
	IntentTask     IntentType = "task"
	IntentRecall   IntentType = "recall"
	IntentGeneral  IntentType = "general"
)

// Intent is the classified form of a query. It does not change during a request.
type Intent struct {
	Query    string            `json:"query"`
	Type     IntentType        `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ContextItem is one unit of gathered context.
type ContextItem struct {
	ID             string                 `json:"id"`
	Content        string                 `json:"content"`
	Source         string                 `json:"source"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	RelevanceScore float64                `json:"relevance_score"`
}

// ContextCollection accumulates items in insertion order. Items are never
// removed or deduplicated. It is owned by a single request goroutine.
type ContextCollection struct {
	items   []ContextItem
	allowed map[string]struct{}
	logger  *zap.Logger
}

// NewContextCollection builds a collection accepting items from the given
// capability names and the reserved sources.
func NewContextCollection(sources []string, logger *zap.Logger) *ContextCollection {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := map[string]struct{}{
		SourcePageContext:   {},
		SourceSessionMemory: {},
	}
	for _, s := range sources {
		allowed[s] = struct{}{}
	}
	return &ContextCollection{allowed: allowed, logger: logger}
}

// Add appends item. Items from unknown sources are dropped.
func (c *ContextCollection) Add(item ContextItem) bool {
	if _, ok := c.allowed[item.Source]; !ok {
		c.logger.Warn("dropping context item from unknown source",
			zap.String("source", item.Source),
			zap.String("id", item.ID))
		return false
	}
	c.items = append(c.items, item)
	return true
}

// Items returns a copy of every item in insertion order.
func (c *ContextCollection) Items() []ContextItem {
	out := make([]ContextItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *ContextCollection) Len() int { return len(c.items) }

// Head returns up to the first n items.
func (c *ContextCollection) Head(n int) []ContextItem {
	if n > len(c.items) || n < 0 {
		n = len(c.items)
	}
	out := make([]ContextItem, n)
	copy(out, c.items[:n])
	return out
}

// BySource returns the items whose source is one of names.
func (c *ContextCollection) BySource(names ...string) []ContextItem {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []ContextItem
	for _, it := range c.items {
		if _, ok := want[it.Source]; ok {
			out = append(out, it)
		}
	}
	return out
}

// ToolCall is one planned invocation.
type ToolCall struct {
	ID           string                 `json:"id"`
	FunctionName string                 `json:"function_name"`
	Arguments    map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of a ToolCall. Err is set for failures.
type ToolResult struct {
	CallID string
	Value  any
	Err    error
}

// Verdict is the sufficiency answer.
type Verdict string

const (
	VerdictSufficient   Verdict = "SUFFICIENT"
	VerdictInsufficient Verdict = "INSUFFICIENT"
	VerdictUnknown      Verdict = "UNKNOWN"
)

// Sufficient reports whether the loop may stop gathering.
func (v Verdict) Sufficient() bool { return v == VerdictSufficient }

// PageContext is the page the user was looking at when asking.
type PageContext struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// Request is an incoming query.
type Request struct {
	Query               string       `json:"query"`
	SessionID           string       `json:"session_id,omitempty"`
	UseTools            *bool        `json:"use_tools,omitempty"`
	MaxIterations       int          `json:"max_iterations,omitempty"`
	StreamFinalResponse *bool        `json:"stream_final_response,omitempty"`
	PageContext         *PageContext `json:"page_context,omitempty"`
	OptimizePrompt      bool         `json:"optimize_prompt,omitempty"`
}

// DefaultMaxIterations bounds the loop when the request leaves it unset.
const DefaultMaxIterations = 3

// Normalize fills unset fields with their defaults.
func (r *Request) Normalize(maxIterations int) {
	if r.UseTools == nil {
		r.UseTools = boolPtr(true)
	}
	if r.StreamFinalResponse == nil {
		r.StreamFinalResponse = boolPtr(true)
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = maxIterations
	}
	if r.SessionID == "" {
		r.SessionID = "default"
	}
}

// ToolsEnabled reports the effective use_tools flag.
func (r Request) ToolsEnabled() bool { return r.UseTools == nil || *r.UseTools }

// Streaming reports the effective stream_final_response flag.
func (r Request) Streaming() bool { return r.StreamFinalResponse == nil || *r.StreamFinalResponse }

func boolPtr(b bool) *bool { return &b }

// SummaryEntry previews one context item in the response.
type SummaryEntry struct {
	Source         string `json:"source"`
	ContentPreview string `json:"content_preview"`
}

// PromptOptimization reports the query rewrite when it was requested.
type PromptOptimization struct {
	Original  string `json:"original"`
	Optimized string `json:"optimized"`
	Applied   bool   `json:"applied"`
}

// ConflictDetail describes one clash between the request and an existing entry.
type ConflictDetail struct {
	Existing string `json:"existing"`
	Slot     string `json:"slot,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ConflictResult is the conflict guard's finding.
type ConflictResult struct {
	HasConflict bool             `json:"has_conflict"`
	Warning     string           `json:"warning,omitempty"`
	Details     []ConflictDetail `json:"conflicts,omitempty"`
}

// Response is the orchestrator's answer to a Request.
type Response struct {
	Success             bool                `json:"success"`
	Response            string              `json:"response"`
	ContextItemsCount   int                 `json:"context_items_count"`
	Iterations          int                 `json:"iterations"`
	HasScheduleConflict bool                `json:"has_schedule_conflict"`
	ConflictDetails     []ConflictDetail    `json:"conflict_details,omitempty"`
	ContextSummary      []SummaryEntry      `json:"context_summary"`
	PromptOptimization  *PromptOptimization `json:"prompt_optimization,omitempty"`
	Termination         string              `json:"termination,omitempty"`
	Duration            time.Duration       `json:"-"`
	Error               string              `json:"error,omitempty"`
}
