package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LifeContext/lifecontext-sub000/config"
	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

func TestIterationCapBoundsGathering(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, "likes mornings", nil),
		returning(&c, "get_tips", "drink water", nil),
	)
	llm := newStubLLM().say("sufficiency", "INSUFFICIENT").say("plan", planJSON("get_tips"))
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "any tips?", MaxIterations: 3, StreamFinalResponse: noStream()})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Equal(t, 3, resp.Iterations)
	assert.Equal(t, StopIterationCap, resp.Termination)
	assert.Equal(t, 1, c.get(BaselineCapability))
	assert.Equal(t, 2, c.get("get_tips"))
	assert.Equal(t, 2, llm.count("sufficiency"))
	assert.Equal(t, 2, llm.count("plan"))
	assert.ElementsMatch(t, []int{1, 2, 3}, h.mem.snapshots)
}

func TestEmptyPlannedRoundEndsGathering(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, nil, nil),
		returning(&c, "get_tips", "", nil),
	)
	llm := newStubLLM().say("sufficiency", "INSUFFICIENT").say("plan", planJSON("get_tips"))
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "any tips?", MaxIterations: 3, StreamFinalResponse: noStream()})
	h.orch.Wait()

	require.True(t, resp.Success)
	// an empty round 1 still leads to a planned round 2
	assert.Equal(t, 1, c.get("get_tips"))
	assert.Equal(t, 1, llm.count("plan"))
	assert.Equal(t, 2, resp.Iterations)
	assert.Equal(t, StopNoProgress, resp.Termination)
}

func TestFirstRoundIsSingleBaselineCall(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, "profile", nil),
		returning(&c, "get_tips", "tip", nil),
	)
	llm := newStubLLM().say("plan", planJSON("get_tips"))
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "hello", SessionID: "s9", MaxIterations: 1})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, 1, c.get(BaselineCapability))
	assert.Zero(t, c.get("get_tips"))
	assert.Zero(t, llm.count("plan"))
	assert.Equal(t, "s9", c.args[BaselineCapability][0]["session_id"])
	assert.Equal(t, "hello", c.args[BaselineCapability][0]["query"])
}

func TestPlannedCallsStayInRequestSession(t *testing.T) {
	var (
		c    counter
		mu   sync.Mutex
		seen []string
	)
	tasks := capability.Capability{
		Name:   "get_tasks",
		Params: []capability.Param{{Name: "session_id", Type: capability.TypeString}},
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			mu.Lock()
			seen = append(seen, capability.SessionID(ctx, args), args.String("session_id"))
			mu.Unlock()
			return "task list", nil
		},
	}
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil), tasks)
	llm := newStubLLM().
		say("sufficiency", "INSUFFICIENT").
		say("plan", `{"tool_calls": [{"name": "get_tasks", "arguments": {"session_id": "bob"}}]}`)
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "what is on bob's list", SessionID: "alice", MaxIterations: 2})
	h.orch.Wait()

	require.True(t, resp.Success)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"alice", "alice"}, seen)
}

func TestSummaryAndSynthesisContextAreBounded(t *testing.T) {
	var c counter
	tips := make([]string, 12)
	for i := range tips {
		tips[i] = fmt.Sprintf("tip number %d", i)
	}
	tools := newTools(t,
		returning(&c, BaselineCapability, "profile facts", nil),
		returning(&c, "get_tips", tips, nil),
		returning(&c, "get_notes", []string{"note a", "note b", "note c"}, nil),
	)
	llm := newStubLLM().say("sufficiency", "INSUFFICIENT").say("plan", planJSON("get_tips", "get_notes"))
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "tips and notes", MaxIterations: 2})
	h.orch.Wait()

	require.True(t, resp.Success)
	// one profile item, ten tips (list cap), three notes
	assert.Equal(t, 14, resp.ContextItemsCount)
	require.Len(t, resp.ContextSummary, 5)
	assert.Equal(t, BaselineCapability, resp.ContextSummary[0].Source)
	assert.Equal(t, "get_tips", resp.ContextSummary[1].Source)
	assert.Equal(t, "tip number 0", resp.ContextSummary[1].ContentPreview)
	assert.Equal(t, "tip number 3", resp.ContextSummary[4].ContentPreview)

	prompt := llm.lastPrompt("synthesize")
	assert.Contains(t, prompt, "[10] (")
	assert.NotContains(t, prompt, "[11] (")
}

func TestScheduleConflictShortCircuitsSynthesis(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, "works 9 to 5", nil),
		returning(&c, "get_tasks", []map[string]string{
			{"kind": "task", "title": "team sync", "due": "2026-03-03 15:00"},
		}, nil),
	)
	llm := newStubLLM().say("sufficiency", "INSUFFICIENT").say("plan", planJSON("get_tasks"))
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{
		Query:         "Schedule a dentist appointment tomorrow at 3pm",
		MaxIterations: 2,
	})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.True(t, resp.HasScheduleConflict)
	require.NotEmpty(t, resp.ConflictDetails)
	assert.Equal(t, "2026-03-03 15:00", resp.ConflictDetails[0].Slot)
	assert.Contains(t, resp.Response, "team sync")
	assert.Zero(t, llm.count("synthesize"))
	assert.Zero(t, llm.count("conflict"))
	require.Len(t, h.conv.exchanges, 1)
	assert.Equal(t, resp.Response, h.conv.exchanges[0].response)
}

func TestScheduleConflictAgainstPlainTaskText(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, "profile", nil),
		returning(&c, "get_tasks", "meeting 3pm tomorrow", nil),
	)
	llm := newStubLLM().say("sufficiency", "INSUFFICIENT").say("plan", planJSON("get_tasks"))
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "schedule something else tomorrow 3pm", MaxIterations: 2})
	h.orch.Wait()

	assert.True(t, resp.HasScheduleConflict)
	assert.Zero(t, llm.count("synthesize"))
}

func TestConflictAskedWhenNoDeterministicOverlap(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, "profile", nil),
		returning(&c, "get_tasks", []map[string]string{{"kind": "task", "title": "lunch with Ana"}}, nil),
	)
	llm := newStubLLM().
		say("sufficiency", "INSUFFICIENT").
		say("plan", planJSON("get_tasks")).
		say("conflict", "```json\n{\"has_conflict\": true, \"warning\": \"You have lunch with Ana then.\", \"conflicts\": [{\"existing\": \"lunch with Ana\"}]}\n```")
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "book a call tomorrow at noon 12:30", MaxIterations: 2})
	h.orch.Wait()

	assert.True(t, resp.HasScheduleConflict)
	assert.Equal(t, "You have lunch with Ana then.", resp.Response)
	assert.Equal(t, 1, llm.count("conflict"))
	assert.Zero(t, llm.count("synthesize"))
}

func TestWhatsMyDayStopsAfterSufficientProfile(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, "standup at 09:30, gym at 18:00", nil),
		returning(&c, "get_tasks", "should not run", nil),
	)
	llm := newStubLLM().say("sufficiency", "SUFFICIENT").say("synthesize", "Standup, then gym.")
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "What's my day look like?", MaxIterations: 2, StreamFinalResponse: noStream()})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, 1, resp.ContextItemsCount)
	assert.Equal(t, StopSufficient, resp.Termination)
	assert.Equal(t, "Standup, then gym.", resp.Response)
	assert.Zero(t, c.get("get_tasks"))
	assert.False(t, resp.HasScheduleConflict)
}

func TestNoTextGeneratorFailsWithoutSideEffects(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	h := newHarness(t, nil, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{
		Query:       "anything",
		PageContext: &PageContext{URL: "https://example.com", Content: "<p>hello there</p>"},
	})
	h.orch.Wait()

	assert.False(t, resp.Success)
	assert.Equal(t, UnavailableMessage, resp.Error)
	assert.Zero(t, c.get(BaselineCapability))
	assert.Empty(t, h.mem.remembered)
	assert.Empty(t, h.mem.pages)
	assert.Empty(t, h.conv.exchanges)
}

func TestFailingCallIsExcludedAndLogged(t *testing.T) {
	var c counter
	tools := newTools(t,
		returning(&c, BaselineCapability, "profile", nil),
		returning(&c, "get_tips", nil, errors.New("tips backend down")),
		returning(&c, "get_notes", "note kept", nil),
	)
	llm := newStubLLM().say("sufficiency", "INSUFFICIENT").say("plan", planJSON("get_tips", "get_notes"))
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "tips and notes", MaxIterations: 2})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Equal(t, 2, resp.ContextItemsCount)
	for _, e := range resp.ContextSummary {
		assert.NotEqual(t, "get_tips", e.Source)
	}
	entry := requireOneLog(t, h.logs, "tool call failed")
	assert.Equal(t, "get_tips", entry.ContextMap()["capability"])
	assert.Contains(t, entry.ContextMap()["error"], "tips backend down")
}

func TestSynthesisUnavailableFailsRequest(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	llm := newStubLLM().on("synthesize", func(context.Context, string) (string, error) {
		return "", fmt.Errorf("dial: %w", types.ErrUnavailable)
	})
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "hi", MaxIterations: 1})
	h.orch.Wait()

	assert.False(t, resp.Success)
	assert.Equal(t, UnavailableMessage, resp.Error)
	assert.Equal(t, 1, resp.Iterations)
	assert.Empty(t, h.conv.exchanges)
}

func TestSynthesisTimeoutUsesFallback(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "dentist on friday", nil))
	llm := newStubLLM().on("synthesize", func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, llm, tools, config.AgentsConfig{LLMTimeout: 50 * time.Millisecond})

	resp := h.orch.Run(context.Background(), Request{Query: "hi", MaxIterations: 1, StreamFinalResponse: noStream()})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Contains(t, resp.Response, "dentist on friday")
}

func TestToolsDisabledStillSynthesizes(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	llm := newStubLLM()
	h := newHarness(t, llm, tools, config.AgentsConfig{})
	off := false

	resp := h.orch.Run(context.Background(), Request{Query: "hi", UseTools: &off})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Zero(t, resp.Iterations)
	assert.Equal(t, StopToolsDisabled, resp.Termination)
	assert.Zero(t, c.get(BaselineCapability))
	assert.Equal(t, "stub answer", resp.Response)
	assert.Contains(t, llm.lastPrompt("synthesize"), "CONTEXT: (none)")
}

func TestPanicIsRecovered(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	llm := newStubLLM().on("synthesize", func(context.Context, string) (string, error) {
		panic("boom")
	})
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "hi", MaxIterations: 1})
	h.orch.Wait()

	assert.False(t, resp.Success)
	assert.Equal(t, "internal error", resp.Error)
	requireOneLog(t, h.logs, "orchestration panicked")
}

func TestStreamDeliversDeltas(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	llm := newStubLLM().say("synthesize", "you are free all afternoon")
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	var deltas []string
	resp := h.orch.Stream(context.Background(), Request{Query: "am I free?", MaxIterations: 1}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Equal(t, "you are free all afternoon", resp.Response)
	assert.Equal(t, resp.Response, strings.Join(deltas, ""))
}

func TestStreamingDisabledBuffersAnswer(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	h := newHarness(t, newStubLLM(), tools, config.AgentsConfig{})

	called := false
	resp := h.orch.Stream(context.Background(), Request{Query: "hi", MaxIterations: 1, StreamFinalResponse: noStream()}, func(string) error {
		called = true
		return nil
	})
	h.orch.Wait()

	assert.True(t, resp.Success)
	assert.False(t, called)
}

func TestPromptOptimizationFeedsRetrieval(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	llm := newStubLLM().say("optimize", `{"optimized": "dentist appointment date"}`)
	h := newHarness(t, llm, tools, config.AgentsConfig{})

	resp := h.orch.Run(context.Background(), Request{Query: "when is that dentist thing again?", MaxIterations: 1, OptimizePrompt: true})
	h.orch.Wait()

	require.NotNil(t, resp.PromptOptimization)
	assert.True(t, resp.PromptOptimization.Applied)
	assert.Equal(t, "dentist appointment date", resp.PromptOptimization.Optimized)
	assert.Equal(t, "dentist appointment date", c.args[BaselineCapability][0]["query"])
	// synthesis still answers the question as asked
	assert.Contains(t, llm.lastPrompt("synthesize"), "QUESTION: when is that dentist thing again?")
}

func TestMemoryRecallPageAndPersistence(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	h := newHarness(t, newStubLLM(), tools, config.AgentsConfig{})
	h.mem.recall = []ContextItem{{ID: "m1", Content: "flight on friday", Source: "anything"}}

	resp := h.orch.Run(context.Background(), Request{
		Query:         "what about my flight?",
		SessionID:     "s1",
		MaxIterations: 1,
		PageContext:   &PageContext{URL: "https://airline.example/booking", Content: "<html><body><p>Booking LH123 confirmed</p></body></html>"},
	})
	h.orch.Wait()

	require.True(t, resp.Success)
	assert.Equal(t, 3, resp.ContextItemsCount)
	assert.Equal(t, SourcePageContext, resp.ContextSummary[0].Source)
	assert.Equal(t, SourceSessionMemory, resp.ContextSummary[1].Source)
	assert.Equal(t, BaselineCapability, resp.ContextSummary[2].Source)

	require.Len(t, h.mem.pages, 1)
	assert.Contains(t, h.mem.pages[0].Content, "LH123")
	require.Len(t, h.mem.remembered, 1)
	assert.Equal(t, BaselineCapability, h.mem.remembered[0].Source)
	require.Len(t, h.conv.exchanges, 1)
	assert.Equal(t, "s1", h.conv.exchanges[0].session)
	assert.Equal(t, 1, h.conv.exchanges[0].iterations)
}

func TestPersistenceFailureDoesNotFailRequest(t *testing.T) {
	var c counter
	tools := newTools(t, returning(&c, BaselineCapability, "profile", nil))
	h := newHarness(t, newStubLLM(), tools, config.AgentsConfig{})
	h.mem.err = errors.New("pgvector down")

	resp := h.orch.Run(context.Background(), Request{Query: "hi", MaxIterations: 1})
	h.orch.Wait()

	assert.True(t, resp.Success)
	assert.Equal(t, 1, h.logs.FilterMessage("session memory recall failed").Len())
	assert.GreaterOrEqual(t, h.logs.FilterMessage("background write failed").Len(), 1)
}
