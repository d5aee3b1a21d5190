package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/extract"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
	"github.com/LifeContext/lifecontext-sub000/internal/metrics"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

const validatorSystemPrompt = `You filter tool outputs for a personal assistant.
Given the user's question and numbered candidate snippets, keep the ones that help answer it.
Return JSON only: {"relevant": [indices]}`

// maxListItems caps how many elements of one list-valued result become items.
const maxListItems = 10

// Validator turns tool results into context items and drops irrelevant ones.
type Validator struct {
	gen    generator
	logger *zap.Logger
}

func NewValidator(gen generator, logger *zap.Logger) *Validator {
	return &Validator{gen: gen, logger: logger.Named("validator")}
}

// Filter renders successful results into scored candidates and keeps the
// ones the model marks relevant. When the model cannot decide, every
// candidate is kept. Baseline profile output is always kept.
func (v *Validator) Filter(ctx context.Context, calls []ToolCall, results []ToolResult, intent Intent, cc *ContextCollection) []ContextItem {
	byID := make(map[string]ToolCall, len(calls))
	for _, c := range calls {
		byID[c.ID] = c
	}
	var candidates []ContextItem
	for _, res := range results {
		call := byID[res.CallID]
		if res.Err != nil {
			v.logger.Debug("excluding failed result",
				zap.String("capability", call.FunctionName),
				zap.Any("arguments", capability.Args(call.Arguments).Sanitized()),
				zap.Error(res.Err))
			continue
		}
		candidates = append(candidates, render(call, res.Value)...)
	}
	if len(candidates) == 0 {
		return nil
	}
	score(candidates, intent.RetrievalQuery(), v.logger)

	keep := v.judge(ctx, candidates, intent, cc)
	out := make([]ContextItem, 0, len(candidates))
	for i, c := range candidates {
		if keep == nil || keep[i] || c.Source == BaselineCapability {
			out = append(out, c)
		}
	}
	return out
}

// judge returns the relevant indices, or nil to keep everything.
func (v *Validator) judge(ctx context.Context, candidates []ContextItem, intent Intent, cc *ContextCollection) map[int]bool {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s\n", intent.Query)
	if cc != nil && cc.Len() > 0 {
		fmt.Fprintf(&b, "ALREADY KNOWN: %d items\n", cc.Len())
	}
	b.WriteString("\nCANDIDATES:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] (%s, score %.2f) %s\n", i, c.Source, c.RelevanceScore, helpers.Preview(c.Content, 300))
	}
	out, err := v.gen.complete(ctx, "validate", types.CompletionRequest{
		Messages:        messages(validatorSystemPrompt, b.String()),
		ZeroTemperature: true,
		MaxTokens:       200,
	})
	if err != nil {
		v.logger.Warn("relevance check failed, keeping all results", zap.Error(err))
		return nil
	}
	obj, ok := extract.Parse(out, extract.ShapeObject, "").(map[string]any)
	if !ok {
		metrics.ParseFailures.WithLabelValues("validate").Inc()
		return nil
	}
	list, ok := obj["relevant"].([]any)
	if !ok {
		metrics.ParseFailures.WithLabelValues("validate").Inc()
		return nil
	}
	keep := make(map[int]bool, len(list))
	for _, x := range list {
		switch n := x.(type) {
		case float64:
			keep[int(n)] = true
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				keep[i] = true
			}
		}
	}
	return keep
}

// render converts one result value into candidate items. Lists become one
// item per element.
func render(call ToolCall, value any) []ContextItem {
	base := map[string]interface{}{
		"capability": call.FunctionName,
		"call_id":    call.ID,
	}
	item := func(idx int, content string, extra map[string]interface{}) ContextItem {
		meta := make(map[string]interface{}, len(base)+len(extra))
		for k, v := range base {
			meta[k] = v
		}
		for k, v := range extra {
			meta[k] = v
		}
		return ContextItem{
			ID:       fmt.Sprintf("%s#%d", call.ID, idx),
			Content:  content,
			Source:   call.FunctionName,
			Metadata: meta,
		}
	}

	switch val := value.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []ContextItem{item(0, strings.TrimSpace(val), nil)}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return []ContextItem{item(0, fmt.Sprint(value), nil)}
	}
	var elems []json.RawMessage
	if len(raw) > 0 && raw[0] == '[' && json.Unmarshal(raw, &elems) == nil {
		var out []ContextItem
		for i, e := range elems {
			if i == maxListItems {
				break
			}
			content, extra := renderElement(e)
			if content == "" {
				continue
			}
			out = append(out, item(i, content, extra))
		}
		return out
	}
	content, extra := renderElement(raw)
	if content == "" {
		return nil
	}
	return []ContextItem{item(0, content, extra)}
}

// renderElement returns text for one JSON value plus the metadata worth
// keeping from it (the entry kind, used by the conflict guard).
func renderElement(raw json.RawMessage) (string, map[string]interface{}) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s), nil
	}
	var obj map[string]interface{}
	if json.Unmarshal(raw, &obj) == nil {
		if len(obj) == 0 {
			return "", nil
		}
		var extra map[string]interface{}
		if kind, ok := obj["kind"].(string); ok && kind != "" {
			extra = map[string]interface{}{"kind": kind}
		}
		return string(raw), extra
	}
	if string(raw) == "null" {
		return "", nil
	}
	return string(raw), nil
}

// score fills RelevanceScore with bleve match scores normalised to [0,1].
func score(items []ContextItem, query string, logger *zap.Logger) {
	if strings.TrimSpace(query) == "" || len(items) == 0 {
		return
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		logger.Debug("relevance index unavailable", zap.Error(err))
		return
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, it := range items {
		_ = batch.Index(strconv.Itoa(i), map[string]interface{}{"content": it.Content})
	}
	if err := index.Batch(batch); err != nil {
		logger.Debug("relevance indexing failed", zap.Error(err))
		return
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), len(items), 0, false)
	res, err := index.Search(req)
	if err != nil {
		logger.Debug("relevance search failed", zap.Error(err))
		return
	}
	top := 0.0
	for _, hit := range res.Hits {
		if hit.Score > top {
			top = hit.Score
		}
	}
	if top <= 0 {
		return
	}
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(items) {
			continue
		}
		items[i].RelevanceScore = hit.Score / top
	}
}
