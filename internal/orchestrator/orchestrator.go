package orchestrator

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/codyaverett/mcp-agent/internal/infer"
	"github.com/codyaverett/mcp-agent/internal/observe"
	"github.com/codyaverett/mcp-agent/internal/phase"
	"github.com/codyaverett/mcp-agent/internal/protocol"
	"github.com/codyaverett/mcp-agent/internal/runctx"
)

// Orchestrator runs tasks end to end: discover, load schemas, infer
// arguments, execute. It holds no per-run state, so one Orchestrator may
// serve concurrent runs.
type Orchestrator struct {
	phases   *phase.Client
	inferrer infer.Inferrer
	sink     observe.Sink
	opts     Options
}

func New(phases *phase.Client, inferrer infer.Inferrer, sink observe.Sink, opts Options) *Orchestrator {
	if sink == nil {
		sink = observe.Nop
	}
	return &Orchestrator{phases: phases, inferrer: inferrer, sink: sink, opts: opts}
}

// run carries the bookkeeping of one Run call.
type run struct {
	o        *Orchestrator
	ctx      context.Context
	state    State
	strategy Strategy
}

// Run executes task. Any phase error is returned unchanged; nothing is
// retried and a failed batch is never replayed as single calls.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	runID := runctx.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = runctx.WithRunID(ctx, runID)
	}
	r := &run{o: o, ctx: ctx, state: StateIdle}
	start := time.Now()
	r.emit(observe.Event{Kind: observe.KindRunStarted, State: string(StateIdle), Message: task})

	res, err := r.execute(task)
	finished := observe.Event{Kind: observe.KindRunFinished, Strategy: string(r.strategy), Duration: time.Since(start)}
	if err != nil {
		r.transition(StateFailed)
		finished.State = string(StateFailed)
		finished.Err = err.Error()
		r.emit(finished)
		return nil, err
	}

	res.RunID = runID
	r.transition(StateDone)
	finished.State = string(StateDone)
	finished.Server = res.Server
	finished.Count = len(res.Operations)
	r.emit(finished)
	return res, nil
}

func (r *run) execute(task string) (*Result, error) {
	r.transition(StateDiscovering)
	d, err := r.o.phases.Discover(r.ctx, task)
	if err != nil {
		return nil, err
	}
	if len(d.Matches) == 0 {
		return nil, &protocol.NoMatchError{Task: task}
	}
	matches := d.Matches
	if !r.o.opts.TrustBackendOrder {
		matches = sortByConfidence(matches)
	}

	if d.SuggestedBatch != nil {
		return r.batch(task, d.SuggestedBatch)
	}
	return r.single(task, matches[0])
}

func (r *run) batch(task string, sb *protocol.SuggestedBatch) (*Result, error) {
	r.strategy = StrategyBatch
	r.transition(StateBatchPlanning)
	r.emit(observe.Event{
		Kind:     observe.KindStrategySelected,
		Strategy: string(StrategyBatch),
		Server:   sb.Server,
		Count:    len(sb.Operations),
	})

	schemas, err := r.o.phases.LoadSchemas(r.ctx, sb.Server, sb.Operations)
	if err != nil {
		return nil, err
	}
	ops := make([]protocol.Operation, 0, len(sb.Operations))
	for _, tool := range sb.Operations {
		schema, _ := phase.FindSchema(schemas, tool)
		ops = append(ops, protocol.Operation{Tool: tool, Args: r.infer(tool, schema, task)})
	}

	r.transition(StateExecuting)
	payload, err := r.o.phases.ExecuteBatch(r.ctx, sb.Server, ops, r.o.opts.Transactional)
	if err != nil {
		return nil, err
	}
	return &Result{Strategy: StrategyBatch, Server: sb.Server, Operations: ops, Payload: payload}, nil
}

func (r *run) single(task string, top protocol.ToolMatch) (*Result, error) {
	r.strategy = StrategySingle
	r.transition(StateSinglePlanning)
	r.emit(observe.Event{
		Kind:     observe.KindStrategySelected,
		Strategy: string(StrategySingle),
		Server:   top.Server,
		Tool:     top.Tool,
		Count:    1,
		Message:  "confidence " + strconv.FormatFloat(top.Confidence, 'f', -1, 64),
	})

	schemas, err := r.o.phases.LoadSchemas(r.ctx, top.Server, []string{top.Tool})
	if err != nil {
		return nil, err
	}
	schema, _ := phase.FindSchema(schemas, top.Tool)
	args := r.infer(top.Tool, schema, task)

	r.transition(StateExecuting)
	payload, err := r.o.phases.ExecuteOne(r.ctx, top.Server, top.Tool, args)
	if err != nil {
		return nil, err
	}
	return &Result{
		Strategy:   StrategySingle,
		Server:     top.Server,
		Operations: []protocol.Operation{{Tool: top.Tool, Args: args}},
		Payload:    payload,
	}, nil
}

func (r *run) infer(tool string, schema *protocol.ToolSchema, task string) map[string]any {
	args := r.o.inferrer.Infer(r.ctx, tool, schema, task)
	if args == nil {
		args = map[string]any{}
	}
	ev := observe.Event{Kind: observe.KindArgsInferred, Tool: tool, Count: len(args)}
	if b, err := json.Marshal(args); err == nil {
		ev.Message = string(b)
	}
	if schema == nil {
		ev.Message += " (no schema)"
	}
	r.emit(ev)
	return args
}

func (r *run) transition(to State) {
	if r.state == to {
		return
	}
	r.state = to
	r.emit(observe.Event{Kind: observe.KindStateChanged, State: string(to)})
}

func (r *run) emit(e observe.Event) {
	e.Time = time.Now()
	e.RunID = runctx.RunID(r.ctx)
	e.Trigger = runctx.Trigger(r.ctx)
	if e.State == "" {
		e.State = string(r.state)
	}
	r.o.sink.Emit(r.ctx, e)
}

// sortByConfidence returns a copy of matches ordered by descending
// confidence. Equal confidences keep backend order.
func sortByConfidence(matches []protocol.ToolMatch) []protocol.ToolMatch {
	sorted := append([]protocol.ToolMatch(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	return sorted
}
