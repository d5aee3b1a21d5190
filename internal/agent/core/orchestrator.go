package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/config"
	"github.com/LifeContext/lifecontext-sub000/internal/capability"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
	"github.com/LifeContext/lifecontext-sub000/internal/metrics"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

// Termination reasons for the gathering loop.
const (
	StopSufficient    = "sufficient"
	StopEmptyPlan     = "empty_plan"
	StopNoProgress    = "no_progress"
	StopIterationCap  = "iteration_cap"
	StopToolsDisabled = "tools_disabled"
)

// pageContentLimit bounds the page text kept as a context item.
const pageContentLimit = 4000

// Tools is the orchestrator's view of the capability registry.
type Tools interface {
	Catalog
	Names() []string
	InvokeMany(ctx context.Context, calls []capability.Call) []capability.Outcome
}

// SessionMemory is the semantic memory behind recall and context storage.
type SessionMemory interface {
	Recall(ctx context.Context, sessionID, query string) ([]ContextItem, error)
	Remember(ctx context.Context, sessionID string, items []ContextItem) error
	Snapshot(ctx context.Context, sessionID string, iteration int, items []ContextItem) error
	IngestPage(ctx context.Context, sessionID string, page PageContext) error
}

// ConversationLog records answered exchanges.
type ConversationLog interface {
	Append(ctx context.Context, sessionID, query, response string, iterations int) error
}

// Options wires an Orchestrator. Only Tools may be shared between
// orchestrators; everything else is per instance.
type Options struct {
	LLM           types.TextGenerator
	Tools         Tools
	Memory        SessionMemory
	Conversations ConversationLog
	Agents        config.AgentsConfig
	// TaskSources name the capabilities whose output the conflict guard checks.
	TaskSources []string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Orchestrator runs the bounded gather-then-answer loop for one query at a
// time per call; calls may run concurrently.
type Orchestrator struct {
	llm           types.TextGenerator
	tools         Tools
	memory        SessionMemory
	conversations ConversationLog
	cfg           config.AgentsConfig
	logger        *zap.Logger

	sufficiency *SufficiencyEvaluator
	planner     *Planner
	validator   *Validator
	guard       *ConflictGuard
	synthesizer *Synthesizer
	optimizer   *Optimizer

	background sync.WaitGroup
}

var orchestratorTracer trace.Tracer = otel.Tracer("lifecontext/internal/agent/core")

func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Agents.Normalize()
	gen := generator{llm: opts.LLM, timeout: cfg.LLMTimeout}
	taskSources := opts.TaskSources
	if taskSources == nil {
		taskSources = []string{"get_tasks"}
	}
	var catalog Catalog = emptyCatalog{}
	if opts.Tools != nil {
		catalog = opts.Tools
	}
	return &Orchestrator{
		llm:           opts.LLM,
		tools:         opts.Tools,
		memory:        opts.Memory,
		conversations: opts.Conversations,
		cfg:           cfg,
		logger:        logger.Named("orchestrator"),
		sufficiency:   NewSufficiencyEvaluator(gen, logger),
		planner:       NewPlanner(gen, catalog, cfg.MaxCallsPerRound, logger),
		validator:     NewValidator(gen, logger),
		guard:         NewConflictGuard(gen, opts.Now, taskSources, logger),
		synthesizer:   NewSynthesizer(gen, opts.Now, logger),
		optimizer:     NewOptimizer(gen, logger),
	}
}

// Run answers req with a buffered response.
func (o *Orchestrator) Run(ctx context.Context, req Request) Response {
	return o.process(ctx, req, nil)
}

// Stream answers req, delivering the final answer to sink as it is
// generated when the request asks for streaming.
func (o *Orchestrator) Stream(ctx context.Context, req Request, sink func(delta string) error) Response {
	return o.process(ctx, req, sink)
}

// Wait blocks until best-effort writes started by earlier calls finish.
func (o *Orchestrator) Wait() { o.background.Wait() }

func (o *Orchestrator) process(ctx context.Context, req Request, sink func(string) error) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestration panicked", zap.Any("panic", r), zap.String("session", req.SessionID))
			resp = Response{Success: false, Error: "internal error", ContextSummary: []SummaryEntry{}}
			metrics.QueriesTotal.WithLabelValues("panic").Inc()
		}
		resp.Duration = time.Since(start)
		metrics.QueryDuration.Observe(resp.Duration.Seconds())
	}()

	req.Normalize(o.cfg.MaxIterations)
	if o.llm == nil {
		metrics.QueriesTotal.WithLabelValues("unavailable").Inc()
		return unavailable(0, 0)
	}

	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.Int("max_iterations", req.MaxIterations),
			attribute.Bool("use_tools", req.ToolsEnabled()),
		))
	defer span.End()
	ctx = capability.WithSession(ctx, req.SessionID)

	intent := ClassifyIntent(req.Query)
	var optimization *PromptOptimization
	if req.OptimizePrompt {
		po := o.optimizer.Rewrite(ctx, req.Query)
		optimization = &po
		if po.Applied {
			intent.Metadata["retrieval_query"] = po.Optimized
		}
	}

	cc := NewContextCollection(o.toolNames(), o.logger)
	o.ingestPage(ctx, req, cc)
	o.recall(ctx, req, intent, cc)

	iterations, reason := o.gather(ctx, req, intent, cc)
	span.SetAttributes(attribute.Int("iterations", iterations), attribute.String("termination", reason))
	metrics.LoopTerminations.WithLabelValues(reason).Inc()
	metrics.QueryIterations.Observe(float64(iterations))
	metrics.ContextItems.Observe(float64(cc.Len()))
	o.logger.Debug("gathering finished",
		zap.String("session", req.SessionID),
		zap.Int("iterations", iterations),
		zap.String("termination", reason),
		zap.Int("context_items", cc.Len()))

	o.rememberContext(ctx, req.SessionID, cc)

	resp = Response{
		Success:            true,
		ContextItemsCount:  cc.Len(),
		Iterations:         iterations,
		ContextSummary:     summarize(cc, o.cfg.SummaryLimit),
		PromptOptimization: optimization,
		Termination:        reason,
	}

	conflictCtx, conflictSpan := orchestratorTracer.Start(ctx, "orchestrator.conflict")
	conflict := o.guard.Check(conflictCtx, cc, intent)
	conflictSpan.SetAttributes(attribute.Bool("has_conflict", conflict.HasConflict))
	conflictSpan.End()
	if conflict.HasConflict {
		metrics.ScheduleConflicts.Inc()
		metrics.QueriesTotal.WithLabelValues("conflict").Inc()
		resp.Response = conflict.Warning
		resp.HasScheduleConflict = true
		resp.ConflictDetails = conflict.Details
		o.record(ctx, req, resp)
		return resp
	}

	synthCtx, synthSpan := orchestratorTracer.Start(ctx, "orchestrator.synthesize")
	var streamTo func(string) error
	if sink != nil && req.Streaming() {
		streamTo = sink
	}
	answer, err := o.synthesizer.Synthesize(synthCtx, intent, cc.Head(o.cfg.SynthesisContextLimit), streamTo)
	if err != nil {
		synthSpan.RecordError(err)
		synthSpan.SetStatus(codes.Error, err.Error())
		synthSpan.End()
		o.logger.Warn("synthesis unavailable", zap.String("session", req.SessionID), zap.Error(err))
		metrics.QueriesTotal.WithLabelValues("unavailable").Inc()
		return unavailable(iterations, cc.Len())
	}
	synthSpan.End()

	resp.Response = answer
	metrics.QueriesTotal.WithLabelValues("success").Inc()
	o.record(ctx, req, resp)
	return resp
}

// gather runs the iteration loop and returns the number of rounds that
// executed tools and why the loop stopped.
func (o *Orchestrator) gather(ctx context.Context, req Request, intent Intent, cc *ContextCollection) (int, string) {
	if !req.ToolsEnabled() || o.tools == nil || len(o.tools.Names()) == 0 {
		return 0, StopToolsDisabled
	}
	rounds := 0
	for k := 1; k <= req.MaxIterations; k++ {
		stop, gathered := o.iterate(ctx, req, intent, cc, k)
		if stop != "" {
			return rounds, stop
		}
		rounds++
		// A planned round that adds nothing ends gathering. Round 1 is the
		// forced baseline call and is exempt, so round 2 always runs once
		// round 1 has executed.
		if k > 1 && gathered == 0 {
			o.logger.Debug("round added nothing, ending gathering", zap.Int("iteration", k))
			return rounds, StopNoProgress
		}
	}
	return rounds, StopIterationCap
}

// iterate runs round k. It returns a termination reason when the loop must
// stop before executing anything, else the number of items added.
func (o *Orchestrator) iterate(ctx context.Context, req Request, intent Intent, cc *ContextCollection, k int) (string, int) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.iteration", trace.WithAttributes(attribute.Int("iteration", k)))
	defer span.End()

	if k > 1 && cc.Len() > 0 {
		if v := o.sufficiency.Evaluate(ctx, cc, intent); v.Sufficient() {
			span.SetAttributes(attribute.String("verdict", string(v)))
			return StopSufficient, 0
		}
	}

	planCtx, planSpan := orchestratorTracer.Start(ctx, "orchestrator.plan")
	calls, rationale := o.planner.Plan(planCtx, intent, cc, k, req)
	planSpan.SetAttributes(attribute.Int("calls", len(calls)))
	planSpan.End()
	if len(calls) == 0 {
		return StopEmptyPlan, 0
	}
	injectSession(calls, req)
	o.logger.Debug("round planned",
		zap.Int("iteration", k),
		zap.Int("calls", len(calls)),
		zap.String("rationale", rationale))

	execCtx, execSpan := orchestratorTracer.Start(ctx, "orchestrator.execute")
	results := o.execute(execCtx, calls)
	execSpan.End()

	items := o.validator.Filter(ctx, calls, results, intent, cc)
	added := make([]ContextItem, 0, len(items))
	for _, it := range items {
		if cc.Add(it) {
			added = append(added, it)
		}
	}
	span.SetAttributes(attribute.Int("items_added", len(added)))
	o.snapshot(ctx, req.SessionID, k, added)
	return "", len(added)
}

func (o *Orchestrator) execute(ctx context.Context, calls []ToolCall) []ToolResult {
	if o.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		// the registry applies per-capability timeouts inside this bound
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ToolTimeout+time.Second)
		defer cancel()
	}
	batch := make([]capability.Call, len(calls))
	for i, c := range calls {
		batch[i] = capability.Call{ID: c.ID, Name: c.FunctionName, Args: capability.Args(c.Arguments)}
	}
	outcomes := o.tools.InvokeMany(ctx, batch)
	results := make([]ToolResult, len(outcomes))
	for i, out := range outcomes {
		results[i] = ToolResult{CallID: out.Call.ID, Value: out.Value}
		if out.Err != nil {
			results[i].Err = newError(KindToolExecution, out.Call.Name, out.Err)
			o.logger.Warn("tool call failed",
				zap.String("capability", out.Call.Name),
				zap.Any("arguments", out.Call.Args.Sanitized()),
				zap.Error(out.Err))
		}
	}
	return results
}

func (o *Orchestrator) ingestPage(ctx context.Context, req Request, cc *ContextCollection) {
	page := req.PageContext
	if page == nil || strings.TrimSpace(page.Content) == "" {
		return
	}
	title, text := helpers.PageText(page.URL, page.Content)
	if text == "" {
		return
	}
	if title == "" {
		title = page.Title
	}
	cc.Add(ContextItem{
		ID:             "page:" + uuid.NewString(),
		Content:        helpers.Preview(text, pageContentLimit),
		Source:         SourcePageContext,
		Metadata:       map[string]interface{}{"url": page.URL, "title": title},
		RelevanceScore: 1,
	})
	if o.memory == nil {
		return
	}
	cleaned := PageContext{URL: page.URL, Title: title, Content: text}
	o.bestEffort(ctx, "page", func(ctx context.Context) error {
		return o.memory.IngestPage(ctx, req.SessionID, cleaned)
	})
}

func (o *Orchestrator) recall(ctx context.Context, req Request, intent Intent, cc *ContextCollection) {
	if o.memory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PersistTimeout)
	defer cancel()
	items, err := o.memory.Recall(ctx, req.SessionID, intent.RetrievalQuery())
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("recall").Inc()
		o.logger.Warn("session memory recall failed", zap.Error(newError(KindPersistence, "recall", err)))
		return
	}
	for _, it := range items {
		it.Source = SourceSessionMemory
		cc.Add(it)
	}
}

func (o *Orchestrator) snapshot(ctx context.Context, sessionID string, k int, items []ContextItem) {
	if o.memory == nil || len(items) == 0 {
		return
	}
	o.bestEffort(ctx, "snapshot", func(ctx context.Context) error {
		return o.memory.Snapshot(ctx, sessionID, k, items)
	})
}

// rememberContext stores what this request gathered. Recalled items and the
// page (indexed separately) are skipped.
func (o *Orchestrator) rememberContext(ctx context.Context, sessionID string, cc *ContextCollection) {
	if o.memory == nil {
		return
	}
	var fresh []ContextItem
	for _, it := range cc.Items() {
		if it.Source == SourceSessionMemory || it.Source == SourcePageContext {
			continue
		}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return
	}
	o.bestEffort(ctx, "context", func(ctx context.Context) error {
		return o.memory.Remember(ctx, sessionID, fresh)
	})
}

func (o *Orchestrator) record(ctx context.Context, req Request, resp Response) {
	if o.conversations == nil {
		return
	}
	o.bestEffort(ctx, "conversation", func(ctx context.Context) error {
		return o.conversations.Append(ctx, req.SessionID, req.Query, resp.Response, resp.Iterations)
	})
}

// bestEffort runs fn detached from the request with its own timeout.
// Failures are logged and counted, never returned.
func (o *Orchestrator) bestEffort(ctx context.Context, target string, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.PersistenceFailures.WithLabelValues(target).Inc()
				o.logger.Error("background write panicked", zap.String("target", target), zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(detached, o.cfg.PersistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.PersistenceFailures.WithLabelValues(target).Inc()
			o.logger.Warn("background write failed",
				zap.String("target", target),
				zap.Error(newError(KindPersistence, target, err)))
		}
	}()
}

func (o *Orchestrator) toolNames() []string {
	if o.tools == nil {
		return nil
	}
	return o.tools.Names()
}

func summarize(cc *ContextCollection, limit int) []SummaryEntry {
	head := cc.Head(limit)
	out := make([]SummaryEntry, 0, len(head))
	for _, it := range head {
		out = append(out, SummaryEntry{Source: it.Source, ContentPreview: helpers.Preview(it.Content, 200)})
	}
	return out
}

func unavailable(iterations, items int) Response {
	return Response{
		Success:           false,
		Error:             UnavailableMessage,
		Iterations:        iterations,
		ContextItemsCount: items,
		ContextSummary:    []SummaryEntry{},
	}
}

type emptyCatalog struct{}

func (emptyCatalog) Describe() []capability.Card { return nil }
func (emptyCatalog) Has(string) bool             { return false }

// String renders a response for terminal output.
func (r Response) String() string {
	if !r.Success {
		return fmt.Sprintf("error: %s", r.Error)
	}
	return r.Response
}
