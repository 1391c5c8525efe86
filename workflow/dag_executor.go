package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/internal/ctxkeys"
	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/internal/pool"
	"github.com/BaSui01/ensembleflow/types"
)

const instrumentationName = "github.com/BaSui01/ensembleflow/workflow"

const (
	modeExecute = "execute"
	modePlan    = "plan"
)

// Invoker performs inference for a single node. Failures should be
// *types.Error values carrying one of the invocation error codes.
type Invoker interface {
	Invoke(ctx context.Context, ref ServiceRef, req *types.Request) ([]byte, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, ref ServiceRef, req *types.Request) ([]byte, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, ref ServiceRef, req *types.Request) ([]byte, error) {
	return f(ctx, ref, req)
}

// FailurePolicy decides what a run does when a node invocation fails.
type FailurePolicy string

const (
	// FailurePolicyContinue logs the failure and feeds an absent payload to
	// dependents. The run completes without error.
	FailurePolicyContinue FailurePolicy = "continue"
	// FailurePolicyFailFast aborts the run on the first failed node.
	FailurePolicyFailFast FailurePolicy = "fail_fast"
)

// ParseFailurePolicy converts a configuration string into a FailurePolicy.
// The empty string selects FailurePolicyContinue.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailurePolicyContinue:
		return FailurePolicyContinue, nil
	case FailurePolicyFailFast:
		return FailurePolicyFailFast, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Scheduler walks a Graph in dependency order, dispatching each node to an
// Invoker once all of its predecessors have completed. A Scheduler holds no
// per-run state and may run concurrently.
type Scheduler struct {
	graph   *Graph
	invoker Invoker
	name    string
	workers int
	policy  FailurePolicy
	drain   bool

	logger  *zap.Logger
	metrics *metrics.Collector
	history HistorySink
	tracer  trace.Tracer
}

// HistorySink receives the ExecutionHistory of every finished Execute call.
type HistorySink interface {
	Record(ctx context.Context, h *ExecutionHistory) error
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithWorkers sets the per-run worker count. Values below one are ignored.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithFailurePolicy sets the failure policy.
func WithFailurePolicy(p FailurePolicy) SchedulerOption {
	return func(s *Scheduler) {
		s.policy = p
	}
}

// WithDrainCompletions makes the coordinator consume every completion that
// is already available after its blocking take.
func WithDrainCompletions(drain bool) SchedulerOption {
	return func(s *Scheduler) {
		s.drain = drain
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With(zap.String("component", "scheduler"))
		}
	}
}

// WithMetrics records run and node metrics into c.
func WithMetrics(c *metrics.Collector) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = c
	}
}

// WithHistory records an ExecutionHistory for every Execute call.
func WithHistory(sink HistorySink) SchedulerOption {
	return func(s *Scheduler) {
		s.history = sink
	}
}

// WithTracer overrides the tracer obtained from the global provider.
func WithTracer(tracer trace.Tracer) SchedulerOption {
	return func(s *Scheduler) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithWorkflowName sets the name used in logs, spans and history records.
func WithWorkflowName(name string) SchedulerOption {
	return func(s *Scheduler) {
		if name != "" {
			s.name = name
		}
	}
}

// NewScheduler creates a scheduler for graph.
func NewScheduler(graph *Graph, invoker Invoker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		graph:   graph,
		invoker: invoker,
		name:    "workflow",
		workers: pool.DefaultGoroutinePoolConfig().MaxWorkers,
		policy:  FailurePolicyContinue,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Graph returns the graph the scheduler runs.
func (s *Scheduler) Graph() *Graph {
	return s.graph
}

// Execute runs every node of the graph against req and returns the outputs
// of the terminal nodes in completion order. Under FailurePolicyContinue a
// failed node contributes a nil payload downstream and its error is reported
// in the matching NodeOutput; the returned error is then only set for
// invalid arguments or cancellation.
func (s *Scheduler) Execute(ctx context.Context, req *types.Request) ([]types.NodeOutput, error) {
	if s.graph == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "scheduler has no graph")
	}
	if s.invoker == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "scheduler has no invoker")
	}
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "request cannot be nil")
	}

	ctx, span := s.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.name", s.name),
			attribute.Int("workflow.nodes", s.graph.Len()),
		))
	defer span.End()

	var hist *ExecutionHistory
	runID := uuid.NewString()
	if s.history != nil {
		hist = NewExecutionHistory(s.name)
		runID = hist.ExecutionID
	}
	span.SetAttributes(attribute.String("workflow.execution_id", runID))
	ctx = ctxkeys.WithWorkflow(ctxkeys.WithRunID(ctx, runID), s.name)

	start := time.Now()
	s.logger.Debug("starting workflow run",
		zap.String("workflow", s.name),
		zap.String("run_id", runID),
		zap.Int("nodes", s.graph.Len()),
		zap.Int("workers", s.workers),
	)

	outputs, failed, err := s.run(ctx, req, nil, hist)
	duration := time.Since(start)

	status := string(ExecutionStatusCompleted)
	switch {
	case err != nil:
		status = string(ExecutionStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("workflow run failed",
			zap.String("workflow", s.name),
			zap.String("run_id", runID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	case failed > 0:
		status = string(ExecutionStatusDegraded)
		s.logger.Warn("workflow completed with failed nodes",
			zap.String("workflow", s.name),
			zap.String("run_id", runID),
			zap.Int("failed_nodes", failed),
			zap.Duration("duration", duration),
		)
	default:
		s.logger.Debug("workflow run completed",
			zap.String("workflow", s.name),
			zap.Int("terminal_outputs", len(outputs)),
			zap.Duration("duration", duration),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordRun(modeExecute, status, duration)
	}
	if hist != nil {
		hist.Complete(err)
		if herr := s.history.Record(context.WithoutCancel(ctx), hist); herr != nil {
			s.logger.Warn("failed to record execution history",
				zap.String("run_id", runID),
				zap.Error(herr),
			)
		}
	}

	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// Plan returns a topological order of the graph without invoking anything.
func (s *Scheduler) Plan(ctx context.Context) ([]string, error) {
	if s.graph == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "scheduler has no graph")
	}

	ctx, span := s.tracer.Start(ctx, "workflow.plan",
		trace.WithAttributes(attribute.String("workflow.name", s.name)))
	defer span.End()

	start := time.Now()
	order := make([]string, 0, s.graph.Len())
	_, _, err := s.run(ctx, nil, &order, nil)

	status := string(ExecutionStatusCompleted)
	if err != nil {
		status = string(ExecutionStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.metrics != nil {
		s.metrics.RecordRun(modePlan, status, time.Since(start))
	}

	if err != nil {
		return nil, err
	}
	return order, nil
}

// run is the Kahn loop shared by Execute and Plan. A non-nil plan selects
// planning mode: nodes complete immediately and their names are appended to
// plan in completion order. It returns the terminal outputs and the number
// of failed nodes.
func (s *Scheduler) run(ctx context.Context, req *types.Request, plan *[]string, hist *ExecutionHistory) ([]types.NodeOutput, int, error) {
	planning := plan != nil
	state := newRunState(s.graph, req)

	var d *dispatcher
	if !planning {
		d = s.newDispatcher(ctx, state, hist)
		defer d.close()
	}

	var outputs []types.NodeOutput
	for state.hasReady() {
		if err := ctx.Err(); err != nil {
			return nil, state.failed, interrupted(err)
		}

		newlyReady := state.takeNewlyReady()

		var results []types.NodeOutput
		if planning {
			for _, name := range newlyReady {
				results = append(results, types.NodeOutput{NodeName: name})
			}
		} else {
			for _, name := range newlyReady {
				if err := d.submit(name); err != nil {
					return nil, state.failed, interrupted(err)
				}
			}
			out, err := d.take(ctx)
			if err != nil {
				return nil, state.failed, interrupted(err)
			}
			results = append(results, out)
			if s.drain {
				results = append(results, d.drainAvailable()...)
			}
		}

		for _, out := range results {
			state.complete(out.NodeName)

			if planning {
				*plan = append(*plan, out.NodeName)
			} else if !out.OK() {
				state.failed++
				if s.policy == FailurePolicyFailFast {
					return nil, state.failed, fmt.Errorf("node %s: %w", out.NodeName, out.Err)
				}
			}

			children := s.graph.Children(out.NodeName)
			if len(children) == 0 {
				if !planning {
					outputs = append(outputs, out)
				}
				continue
			}

			for _, child := range children {
				if !planning {
					state.requests.contribute(child, out.NodeName, out.Payload, s.graph.InDegree(child))
				}
				state.release(child)
			}
		}
	}

	return outputs, state.failed, nil
}

func interrupted(err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewError(types.ErrInterrupted, "workflow run interrupted").WithCause(err)
}

// dispatcher owns the worker pool and completion channel of one run.
type dispatcher struct {
	s       *Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	state   *runState
	hist    *ExecutionHistory
	pool    *pool.GoroutinePool
	results chan types.NodeOutput
}

func (s *Scheduler) newDispatcher(ctx context.Context, state *runState, hist *ExecutionHistory) *dispatcher {
	ctx, cancel := context.WithCancel(ctx)
	n := s.graph.Len()
	return &dispatcher{
		s:      s,
		ctx:    ctx,
		cancel: cancel,
		state:  state,
		hist:   hist,
		// Every node is queued at most once, so neither the queue nor the
		// completion channel can block.
		pool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers: s.workers,
			QueueSize:  n,
		}),
		results: make(chan types.NodeOutput, n),
	}
}

func (d *dispatcher) submit(name string) error {
	return d.pool.Submit(d.ctx, func(ctx context.Context) error {
		d.results <- d.s.dispatch(ctx, d.state, d.hist, name)
		return nil
	})
}

// take blocks until one node completes or ctx is done.
func (d *dispatcher) take(ctx context.Context) (types.NodeOutput, error) {
	select {
	case out := <-d.results:
		return out, nil
	case <-ctx.Done():
		return types.NodeOutput{}, ctx.Err()
	}
}

// drainAvailable returns the completions already available without blocking.
func (d *dispatcher) drainAvailable() []types.NodeOutput {
	var outs []types.NodeOutput
	for {
		select {
		case out := <-d.results:
			outs = append(outs, out)
		default:
			return outs
		}
	}
}

// close cancels outstanding invocations and waits for the workers to exit.
func (d *dispatcher) close() {
	d.cancel()
	d.pool.Close()
}

// dispatch invokes one node and converts any failure into a NodeOutput with
// an absent payload.
func (s *Scheduler) dispatch(ctx context.Context, state *runState, hist *ExecutionHistory, name string) types.NodeOutput {
	node, _ := s.graph.Node(name)
	input := state.requests.get(name)

	ctx = ctxkeys.WithNode(ctx, name)
	ctx, span := s.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("workflow.node", name),
			attribute.String("workflow.model", node.Service.String()),
		))
	defer span.End()

	var rec *NodeExecution
	if hist != nil {
		rec = hist.RecordNodeStart(node, input)
	}
	if s.metrics != nil {
		s.metrics.NodeStarted()
	}

	start := time.Now()
	payload, err := s.invoke(ctx, node, input)
	duration := time.Since(start)

	out := types.NodeOutput{NodeName: name, Payload: payload}
	status := "ok"
	if err != nil {
		out.Payload = nil
		out.Err = normalizeError(ctx, node, err)
		status = "failed"

		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		s.logger.Error("failed to execute workflow node",
			zap.String("workflow", s.name),
			zap.String("node", name),
			zap.String("model", node.Service.String()),
			zap.String("code", string(types.GetErrorCode(out.Err))),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("workflow node completed",
			zap.String("node", name),
			zap.Int("payload_size", len(payload)),
			zap.Duration("duration", duration),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordNode(name, status, duration)
	}
	if rec != nil {
		hist.RecordNodeEnd(rec, out.Payload, out.Err)
	}

	return out
}

// invoke calls the invoker, turning a panic into an error. Nodes queued
// behind a cancelled run are not invoked.
func (s *Scheduler) invoke(ctx context.Context, node *Node, input *types.Request) (payload []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = types.NewError(types.ErrExecutionFault, "invoker panicked").
				WithCause(fmt.Errorf("%v", r))
		}
	}()

	return s.invoker.Invoke(ctx, node.Service, input)
}

// normalizeError returns a *types.Error tagged with the node. Foreign errors
// become EXECUTION_FAULT, or INTERRUPTED when ctx is done.
func normalizeError(ctx context.Context, node *Node, err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		tagged := *te
		tagged.Node = node.Name
		if tagged.Model == "" {
			tagged.Model = node.Service.Model
		}
		return &tagged
	}

	code := types.ErrExecutionFault
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = types.ErrInterrupted
	}
	return types.NewError(code, "model invocation failed").
		WithCause(err).
		WithNode(node.Name).
		WithModel(node.Service.Model)
}
