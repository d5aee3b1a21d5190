package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LifeContext/lifecontext-sub000/config"
	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

// Monday 2026-03-02 08:00 UTC.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type replyFunc func(ctx context.Context, user string) (string, error)

// stubLLM answers by pipeline step, recognised from the system prompt.
type stubLLM struct {
	mu      sync.Mutex
	replies map[string]replyFunc
	calls   map[string]int
	prompts map[string][]string
}

func newStubLLM() *stubLLM {
	return &stubLLM{replies: map[string]replyFunc{}, calls: map[string]int{}, prompts: map[string][]string{}}
}

func (s *stubLLM) on(step string, fn replyFunc) *stubLLM {
	s.replies[step] = fn
	return s
}

func (s *stubLLM) say(step, reply string) *stubLLM {
	return s.on(step, func(context.Context, string) (string, error) { return reply, nil })
}

func (s *stubLLM) count(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[step]
}

func (s *stubLLM) lastPrompt(step string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prompts[step]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func stepOf(req types.CompletionRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	switch req.Messages[0].Content {
	case sufficiencySystemPrompt:
		return "sufficiency"
	case plannerSystemPrompt:
		return "plan"
	case validatorSystemPrompt:
		return "validate"
	case conflictSystemPrompt:
		return "conflict"
	case synthesisSystemPrompt:
		return "synthesize"
	case optimizeSystemPrompt:
		return "optimize"
	}
	return ""
}

func (s *stubLLM) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	step := stepOf(req)
	user := req.Messages[len(req.Messages)-1].Content
	s.mu.Lock()
	s.calls[step]++
	s.prompts[step] = append(s.prompts[step], user)
	fn := s.replies[step]
	s.mu.Unlock()
	if fn == nil {
		if step == "synthesize" {
			return "stub answer", nil
		}
		return "", nil
	}
	return fn(ctx, user)
}

func (s *stubLLM) Stream(ctx context.Context, req types.CompletionRequest, onDelta func(string) error) (string, error) {
	out, err := s.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	for i, w := range strings.Fields(out) {
		if i > 0 {
			w = " " + w
		}
		if err := onDelta(w); err != nil {
			return "", err
		}
	}
	return out, nil
}

type stubMemory struct {
	mu         sync.Mutex
	recall     []ContextItem
	remembered []ContextItem
	snapshots  []int
	pages      []PageContext
	err        error
}

func (m *stubMemory) Recall(context.Context, string, string) ([]ContextItem, error) {
	return m.recall, m.err
}

func (m *stubMemory) Remember(_ context.Context, _ string, items []ContextItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remembered = append(m.remembered, items...)
	return m.err
}

func (m *stubMemory) Snapshot(_ context.Context, _ string, iteration int, _ []ContextItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, iteration)
	return m.err
}

func (m *stubMemory) IngestPage(_ context.Context, _ string, page PageContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, page)
	return m.err
}

type exchange struct {
	session, query, response string
	iterations               int
}

type stubConversations struct {
	mu        sync.Mutex
	exchanges []exchange
}

func (c *stubConversations) Append(_ context.Context, session, query, response string, iterations int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, exchange{session, query, response, iterations})
	return nil
}

// counter records capability invocations by name.
type counter struct {
	mu   sync.Mutex
	n    map[string]int
	args map[string][]capability.Args
}

func (c *counter) hit(name string, args capability.Args) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int{}
		c.args = map[string][]capability.Args{}
	}
	c.n[name]++
	c.args[name] = append(c.args[name], args)
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

func returning(c *counter, name string, value any, err error) capability.Capability {
	return capability.Capability{
		Name:        name,
		Description: "test capability " + name,
		Params:      []capability.Param{{Name: "query", Type: capability.TypeString}},
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			c.hit(name, args)
			return value, err
		},
	}
}

func newTools(t *testing.T, caps ...capability.Capability) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry(capability.Options{DefaultTimeout: time.Second})
	t.Cleanup(reg.Close)
	reg.MustRegister(caps...)
	reg.Seal()
	return reg
}

type harness struct {
	orch *Orchestrator
	llm  *stubLLM
	mem  *stubMemory
	conv *stubConversations
	logs *observer.ObservedLogs
}

func newHarness(t *testing.T, llm *stubLLM, tools Tools, agents config.AgentsConfig) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{llm: llm, mem: &stubMemory{}, conv: &stubConversations{}, logs: logs}
	opts := Options{
		Tools:         tools,
		Memory:        h.mem,
		Conversations: h.conv,
		Agents:        agents,
		Logger:        zap.New(core),
		Now:           func() time.Time { return testNow },
	}
	if llm != nil {
		opts.LLM = llm
	}
	h.orch = NewOrchestrator(opts)
	return h
}

func planJSON(names ...string) string {
	calls := make([]string, len(names))
	for i, n := range names {
		calls[i] = `{"name": "` + n + `", "arguments": {}}`
	}
	return `{"rationale": "need more", "tool_calls": [` + strings.Join(calls, ", ") + `]}`
}

func noStream() *bool { b := false; return &b }

func requireOneLog(t *testing.T, logs *observer.ObservedLogs, msg string) observer.LoggedEntry {
	t.Helper()
	entries := logs.FilterMessage(msg).All()
	require.Len(t, entries, 1, "expected one %q log", msg)
	return entries[0]
}
