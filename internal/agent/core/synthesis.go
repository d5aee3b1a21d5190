package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/internal/extract"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

const synthesisSystemPrompt = `You are LifeContext, a personal assistant that knows the user's tasks, schedule, notes and recent conversations.
Answer the user's question using the context below. Prefer concrete details from the context (times, names, titles).
If the context does not cover the question, answer briefly from general knowledge and say what you could not find.`

const optimizeSystemPrompt = `Rewrite the user's question into a short search query that would retrieve the right personal notes, tasks and events.
Keep names, dates and times. Return JSON only: {"optimized": "..."}`

// Synthesizer produces the final answer.
type Synthesizer struct {
	gen    generator
	now    func() time.Time
	logger *zap.Logger
}

func NewSynthesizer(gen generator, now func() time.Time, logger *zap.Logger) *Synthesizer {
	if now == nil {
		now = time.Now
	}
	return &Synthesizer{gen: gen, now: now, logger: logger.Named("synthesis")}
}

// Synthesize answers intent from items. With a non-nil sink the answer is
// streamed. A timed-out call yields a fallback built from the context; an
// unavailable service is returned as a KindServiceUnavailable error.
func (s *Synthesizer) Synthesize(ctx context.Context, intent Intent, items []ContextItem, sink func(string) error) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "NOW: %s\n\n", s.now().Format("Monday, 2006-01-02 15:04"))
	if len(items) == 0 {
		b.WriteString("CONTEXT: (none)\n")
	} else {
		b.WriteString("CONTEXT:\n")
		for i, it := range items {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, it.Source, helpers.Preview(it.Content, 1200))
		}
	}
	fmt.Fprintf(&b, "\nQUESTION: %s", intent.Query)

	req := types.CompletionRequest{Messages: messages(synthesisSystemPrompt, b.String())}
	var (
		out string
		err error
	)
	if sink != nil {
		out, err = s.gen.stream(ctx, "synthesize", req, sink)
	} else {
		out, err = s.gen.complete(ctx, "synthesize", req)
	}
	switch {
	case err == nil && strings.TrimSpace(out) != "":
		return strings.TrimSpace(out), nil
	case err != nil && timedOut(err):
		s.logger.Warn("synthesis timed out, using fallback answer", zap.Error(err))
		return fallbackAnswer(items), nil
	case err != nil:
		if kind, ok := KindOf(err); ok && kind == KindServiceUnavailable {
			return "", err
		}
		s.logger.Warn("synthesis failed, using fallback answer", zap.Error(err))
	}
	return fallbackAnswer(items), nil
}

func fallbackAnswer(items []ContextItem) string {
	if len(items) == 0 {
		return "I couldn't put an answer together just now. Please try again in a moment."
	}
	var b strings.Builder
	b.WriteString("I couldn't put a full answer together just now, but here is what I found:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", helpers.Preview(it.Content, 200))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Optimizer rewrites queries for retrieval.
type Optimizer struct {
	gen    generator
	logger *zap.Logger
}

func NewOptimizer(gen generator, logger *zap.Logger) *Optimizer {
	return &Optimizer{gen: gen, logger: logger.Named("optimizer")}
}

// Rewrite never fails: on any problem the original query is kept and
// Applied is false.
func (o *Optimizer) Rewrite(ctx context.Context, query string) PromptOptimization {
	res := PromptOptimization{Original: query, Optimized: query}
	out, err := o.gen.complete(ctx, "optimize", types.CompletionRequest{
		Messages:        messages(optimizeSystemPrompt, query),
		ZeroTemperature: true,
		MaxTokens:       120,
	})
	if err != nil {
		o.logger.Debug("prompt optimization failed", zap.Error(err))
		return res
	}
	optimized, _ := extract.Parse(out, extract.ShapeObject, "optimized").(string)
	if optimized == "" && !strings.ContainsAny(out, "{}") {
		optimized = strings.Trim(out, "\"' \n")
	}
	optimized = strings.TrimSpace(optimized)
	if optimized == "" || optimized == strings.TrimSpace(query) || len([]rune(optimized)) > 4*len([]rune(query))+40 {
		return res
	}
	res.Optimized = optimized
	res.Applied = true
	return res
}
