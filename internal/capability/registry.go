package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LifeContext/lifecontext-sub000/internal/metrics"
	"go.uber.org/zap"
)

// Mode tells the registry how a handler behaves.
type Mode int

const (
	// ModeAsync handlers honour ctx and run on their own goroutine.
	ModeAsync Mode = iota
	// ModeSync handlers may block; they run on the bounded worker pool.
	ModeSync
)

func (m Mode) String() string {
	if m == ModeSync {
		return "sync"
	}
	return "async"
}

// Handler executes a capability.
type Handler func(ctx context.Context, args Args) (any, error)

// Capability is a named information or side-effect provider. Description is
// the routing signal shown to the planner.
type Capability struct {
	Name        string
	Description string
	Params      []Param
	Mode        Mode
	Timeout     time.Duration
	Handler     Handler
}

// Card is the planner-facing description of a capability.
type Card struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
	Mode        string  `json:"mode"`
}

// Call is one requested invocation.
type Call struct {
	ID   string
	Name string
	Args Args
}

// Outcome pairs a call with its value or error. Exactly one of Value and Err
// is meaningful.
type Outcome struct {
	Call     Call
	Value    any
	Err      error
	Duration time.Duration
}

var (
	// ErrUnknownCapability indicates no capability is registered under the name.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrSealed indicates Register was called after Seal.
	ErrSealed = errors.New("capability registry is sealed")
	// ErrNilHandler indicates a capability without a handler.
	ErrNilHandler = errors.New("capability handler is nil")
)

// ToolError tags a failure with the capability that produced it.
type ToolError struct {
	Capability string
	Err        error
}

func (e *ToolError) Error() string { return fmt.Sprintf("capability %s: %v", e.Capability, e.Err) }

func (e *ToolError) Unwrap() error { return e.Err }

type entry struct {
	cap    Capability
	schema *schema
}

// Options configures a Registry.
type Options struct {
	PoolSize       int
	DefaultTimeout time.Duration
	Logger         *zap.Logger
}

// Registry resolves capabilities by name and runs them through one
// asynchronous contract. It is populated at startup, sealed, and then shared
// read-only across concurrent requests.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	sealed  bool

	pool    *pool
	timeout time.Duration
	logger  *zap.Logger
}

// NewRegistry builds an empty registry with its worker pool running.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		entries: make(map[string]*entry),
		pool:    newPool(opts.PoolSize),
		timeout: timeout,
		logger:  logger.Named("capability"),
	}
}

// Register adds c by name. Registering an existing name replaces it.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("capability name required")
	}
	if c.Handler == nil {
		return &ToolError{Capability: c.Name, Err: ErrNilHandler}
	}
	s, err := compileSchema(c.Name, c.Params)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return &ToolError{Capability: c.Name, Err: ErrSealed}
	}
	if _, exists := r.entries[c.Name]; exists {
		r.logger.Warn("capability override", zap.String("capability", c.Name))
	}
	r.entries[c.Name] = &entry{cap: c, schema: s}
	return nil
}

// MustRegister is Register for startup wiring where failure is a bug.
func (r *Registry) MustRegister(caps ...Capability) {
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns planner cards sorted by name.
func (r *Registry) Describe() []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cards := make([]Card, 0, len(r.entries))
	for _, e := range r.entries {
		cards = append(cards, Card{Name: e.cap.Name, Description: e.cap.Description, Params: e.cap.Params, Mode: e.cap.Mode.String()})
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

// Check returns the structural argument issues for a call without running it.
func (r *Registry) Check(name string, args Args) ([]ArgIssue, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, &ToolError{Capability: name, Err: ErrUnknownCapability}
	}
	return e.schema.check(args), nil
}

// Invoke runs one capability and waits for its result.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (any, error) {
	out := <-r.Dispatch(ctx, Call{Name: name, Args: args})
	return out.Value, out.Err
}

// InvokeMany runs calls concurrently. The result slice has one outcome per
// call in input order; one call failing does not affect the others.
func (r *Registry) InvokeMany(ctx context.Context, calls []Call) []Outcome {
	pending := make([]<-chan Outcome, len(calls))
	for i, c := range calls {
		pending[i] = r.Dispatch(ctx, c)
	}
	outcomes := make([]Outcome, len(calls))
	for i, ch := range pending {
		outcomes[i] = <-ch
	}
	return outcomes
}

// Dispatch starts a call and returns a channel that yields exactly one
// Outcome. Missing or mistyped arguments are logged, and the call still runs.
func (r *Registry) Dispatch(ctx context.Context, call Call) <-chan Outcome {
	result := make(chan Outcome, 1)
	e, ok := r.lookup(call.Name)
	if !ok {
		metrics.CapabilityInvocations.WithLabelValues(call.Name, "unknown").Inc()
		result <- Outcome{Call: call, Err: &ToolError{Capability: call.Name, Err: ErrUnknownCapability}}
		return result
	}
	if call.Args == nil {
		call.Args = Args{}
	}
	if issues := e.schema.check(call.Args); len(issues) > 0 {
		metrics.ArgumentIssues.WithLabelValues(call.Name).Inc()
		msgs := make([]string, len(issues))
		for i, is := range issues {
			msgs[i] = is.String()
		}
		r.logger.Warn("capability argument issues",
			zap.String("capability", call.Name),
			zap.Strings("issues", msgs),
			zap.Any("args", call.Args.Sanitized()))
	}
	timeout := e.cap.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	go func() {
		result <- r.run(ctx, e.cap, call, timeout)
	}()
	return result
}

func (r *Registry) run(parent context.Context, c Capability, call Call, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Outcome, 1)
	job := func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Outcome{Call: call, Err: fmt.Errorf("panic: %v", p)}
			}
		}()
		v, err := c.Handler(ctx, call.Args)
		done <- Outcome{Call: call, Value: v, Err: err}
	}
	if c.Mode == ModeSync {
		if err := r.pool.submit(ctx, job); err != nil {
			return r.finish(call, Outcome{Call: call, Err: err}, start)
		}
	} else {
		go job()
	}

	select {
	case out := <-done:
		return r.finish(call, out, start)
	case <-ctx.Done():
		return r.finish(call, Outcome{Call: call, Err: ctx.Err()}, start)
	}
}

func (r *Registry) finish(call Call, out Outcome, start time.Time) Outcome {
	out.Duration = time.Since(start)
	metrics.CapabilityDuration.WithLabelValues(call.Name).Observe(out.Duration.Seconds())
	if out.Err != nil {
		var te *ToolError
		if !errors.As(out.Err, &te) {
			out.Err = &ToolError{Capability: call.Name, Err: out.Err}
		}
		out.Value = nil
		metrics.CapabilityInvocations.WithLabelValues(call.Name, "error").Inc()
		r.logger.Warn("capability failed",
			zap.String("capability", call.Name),
			zap.String("call_id", call.ID),
			zap.Any("args", call.Args.Sanitized()),
			zap.Error(out.Err))
		return out
	}
	metrics.CapabilityInvocations.WithLabelValues(call.Name, "ok").Inc()
	return out
}

// Close stops the worker pool. Calls dispatched afterwards to synchronous
// capabilities fail with ErrPoolClosed.
func (r *Registry) Close() {
	r.pool.close()
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}
