package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/LifeContext/lifecontext-sub000/internal/metrics"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

// generator applies the per-call timeout and step bookkeeping around a
// TextGenerator.
type generator struct {
	llm     types.TextGenerator
	timeout time.Duration
}

func (g generator) complete(ctx context.Context, step string, req types.CompletionRequest) (string, error) {
	if g.llm == nil {
		return "", newError(KindServiceUnavailable, step, types.ErrUnavailable)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out, err := g.llm.Complete(ctx, req)
	return g.done(step, out, err)
}

func (g generator) stream(ctx context.Context, step string, req types.CompletionRequest, onDelta func(string) error) (string, error) {
	if g.llm == nil {
		return "", newError(KindServiceUnavailable, step, types.ErrUnavailable)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out, err := g.llm.Stream(ctx, req, onDelta)
	return g.done(step, out, err)
}

func (g generator) done(step, out string, err error) (string, error) {
	if err != nil {
		metrics.LLMRequests.WithLabelValues(step, "error").Inc()
		if errors.Is(err, types.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return out, newError(KindServiceUnavailable, step, err)
		}
		return out, err
	}
	metrics.LLMRequests.WithLabelValues(step, "ok").Inc()
	return strings.TrimSpace(out), nil
}

func messages(system, user string) []types.Message {
	return []types.Message{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: user},
	}
}

// timedOut reports whether err came from a deadline rather than the service
// rejecting or dropping the call.
func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
