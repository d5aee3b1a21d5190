package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/internal/extract"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
	"github.com/LifeContext/lifecontext-sub000/internal/metrics"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

const sufficiencySystemPrompt = `You judge whether the context gathered so far is enough to answer the user's question.
Reply with exactly one word: SUFFICIENT, INSUFFICIENT or UNKNOWN.
Answer SUFFICIENT only when the context already contains what the answer needs.`

// SufficiencyEvaluator asks the text-generation service whether gathering
// can stop.
type SufficiencyEvaluator struct {
	gen    generator
	logger *zap.Logger
}

func NewSufficiencyEvaluator(gen generator, logger *zap.Logger) *SufficiencyEvaluator {
	return &SufficiencyEvaluator{gen: gen, logger: logger.Named("sufficiency")}
}

// Evaluate returns Sufficient only on an explicit SUFFICIENT reply. Every
// failure, timeout or unclear reply counts as Insufficient.
func (e *SufficiencyEvaluator) Evaluate(ctx context.Context, cc *ContextCollection, intent Intent) Verdict {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s\n\nCONTEXT:\n", intent.Query)
	for i, it := range cc.Head(10) {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i, it.Source, helpers.Preview(it.Content, 300))
	}
	out, err := e.gen.complete(ctx, "sufficiency", types.CompletionRequest{
		Messages:        messages(sufficiencySystemPrompt, b.String()),
		ZeroTemperature: true,
		MaxTokens:       16,
	})
	if err != nil {
		e.logger.Warn("sufficiency check failed", zap.Error(err))
		return VerdictInsufficient
	}
	v := parseVerdict(out)
	if v == "" {
		metrics.ParseFailures.WithLabelValues("sufficiency").Inc()
		e.logger.Debug("unrecognised sufficiency reply", zap.String("reply", helpers.Preview(out, 120)))
		return VerdictInsufficient
	}
	if v == VerdictUnknown {
		return VerdictInsufficient
	}
	return v
}

func parseVerdict(out string) Verdict {
	if s, ok := extract.Parse(out, extract.ShapeObject, "verdict").(string); ok {
		out = s
	}
	upper := strings.ToUpper(out)
	switch {
	case strings.Contains(upper, "INSUFFICIENT"), strings.Contains(upper, "NOT SUFFICIENT"):
		return VerdictInsufficient
	case strings.Contains(upper, "SUFFICIENT"):
		return VerdictSufficient
	case strings.Contains(upper, "UNKNOWN"):
		return VerdictUnknown
	}
	return ""
}
