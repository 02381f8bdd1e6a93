package engine

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/pkg/schema"
)

// loopExitLabel is the loop output fired on exit; every other declared label
// (or the implicit output) arms the body.
const loopExitLabel = "exit"

type edgeStatus int

const (
	edgePending edgeStatus = iota
	edgeSatisfied
	edgeSkipped
)

type edgeState struct {
	status edgeStatus
	value  any
}

// firing is what one node execution produced: a value per fired output label.
type firing struct {
	node    *schema.FlowNode
	outputs map[string]any

	// partial leaves unfired labels pending instead of skipping them; loop
	// nodes use it so the exit path survives body iterations.
	partial bool

	// rearm lists body node ids whose state resets for the next iteration.
	rearm []string

	// final marks an output node; value is the run's final output.
	final      bool
	finalValue any
}

// flowRun drives one flow invocation as a dataflow: a node becomes ready when
// none of its inputs are pending and at least one is satisfied; ready nodes
// execute concurrently in waves; selecting a subset of outputs skips the
// others, and skips propagate so dead paths never block a join.
type flowRun struct {
	rt   *runtime
	ec   *ExecutionContext
	flow *schema.FlowDefinition

	edges    []edgeState
	incoming map[string][]int
	outgoing map[string][]int
	done     map[string]bool
	skipped  map[string]bool
	bound    map[string][]string // node id -> scope refs it has bound

	// regions maps each loop node to its body node set, for re-arming and
	// for exposing the iteration counter to body expressions.
	regions map[string]map[string]bool

	finalSet bool
	final    any
}

// executeFlow runs the context's flow to completion and returns the value
// collected at its output node.
func (rt *runtime) executeFlow(ctx context.Context, ec *ExecutionContext) (any, error) {
	fr := newFlowRun(rt, ec)
	return fr.run(ctx)
}

func newFlowRun(rt *runtime, ec *ExecutionContext) *flowRun {
	flow := ec.Flow
	fr := &flowRun{
		rt:       rt,
		ec:       ec,
		flow:     flow,
		edges:    make([]edgeState, len(flow.Edges)),
		incoming: make(map[string][]int),
		outgoing: make(map[string][]int),
		done:     make(map[string]bool),
		skipped:  make(map[string]bool),
		bound:    make(map[string][]string),
		regions:  make(map[string]map[string]bool),
	}
	for i := range flow.Edges {
		edge := &flow.Edges[i]
		fr.outgoing[edge.SourceNode()] = append(fr.outgoing[edge.SourceNode()], i)
		fr.incoming[edge.To] = append(fr.incoming[edge.To], i)
	}
	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		if node.Kind == schema.NodeKindLoop {
			fr.regions[node.ID] = fr.loopRegion(node)
		}
	}
	return fr
}

func (fr *flowRun) run(ctx context.Context) (any, error) {
	ready := []string{fr.flow.Entry}

	for len(ready) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeCancelled,
				"flow %q run cancelled", fr.flow.ID).WithCause(err)
		}

		results := make([]*firing, len(ready))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fr.rt.engine.opts.MaxWorkers)
		for i, id := range ready {
			g.Go(func() error {
				f, err := fr.executeNode(gctx, id)
				if err != nil {
					return err
				}
				results[i] = f
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, f := range results {
			fr.apply(ctx, f)
		}
		ready = fr.collectReady()
	}

	if !fr.finalSet {
		return nil, schema.NewErrorf(schema.ErrCodeDeadEnd,
			"flow %q drained without reaching an output node", fr.flow.ID).
			WithDetails(map[string]any{"blocked": fr.blockedNodes()})
	}
	return fr.final, nil
}

// executeNode dispatches one ready node to its handler, wrapping it with
// lifecycle events and node attribution on failure.
func (fr *flowRun) executeNode(ctx context.Context, id string) (*firing, error) {
	node := fr.flow.Node(id)
	ctx = logging.WithNodeID(ctx, id)

	fr.rt.emit(ctx, fr.ec, schema.EventNodeStarted, id, "", nil)

	f, err := fr.dispatch(ctx, node)
	if err != nil {
		fr.rt.emit(ctx, fr.ec, schema.EventNodeFailed, id, "", map[string]any{"error": err.Error()})
		var ferr *schema.FlowError
		if errors.As(err, &ferr) && ferr.NodeID == "" {
			ferr.NodeID = id
		}
		return nil, err
	}

	fr.rt.emit(ctx, fr.ec, schema.EventNodeCompleted, id, "", nil)
	return f, nil
}

func (fr *flowRun) dispatch(ctx context.Context, node *schema.FlowNode) (*firing, error) {
	switch node.Kind {
	case schema.NodeKindInput:
		return fr.fireAll(node, fr.ec.Task), nil

	case schema.NodeKindOutput:
		inputs := fr.inputValues(node.ID)
		var value any
		if len(inputs) == 1 {
			value = inputs[0]
		} else {
			value = inputs
		}
		return &firing{node: node, final: true, finalValue: value}, nil

	case schema.NodeKindMerge:
		return fr.fireAll(node, fr.inputValues(node.ID)), nil

	case schema.NodeKindParallel:
		return fr.fireAll(node, fr.primaryInput(node.ID)), nil

	case schema.NodeKindLoop:
		return fr.executeLoop(ctx, node)

	case schema.NodeKindAgent:
		return fr.executeAgent(ctx, node)

	case schema.NodeKindDecision:
		return fr.executeDecision(ctx, node)

	case schema.NodeKindTool:
		return fr.executeTool(ctx, node)

	case schema.NodeKindSubflow:
		return fr.executeSubflow(ctx, node)

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unhandled node kind %q", node.Kind)
	}
}

// executeLoop arms the body on entry and on each re-arrival until the break
// condition holds or the iteration budget is spent, then fires the exit
// output. Hitting the budget is a normal exit, not an error.
func (fr *flowRun) executeLoop(ctx context.Context, node *schema.FlowNode) (*firing, error) {
	value := fr.primaryInput(node.ID)

	iter, active := fr.ec.Iteration(node.ID)
	if !active {
		fr.ec.SetIteration(node.ID, 1)
		return &firing{node: node, outputs: fr.loopOutputs(node, value, false), partial: true}, nil
	}

	shouldBreak := false
	if node.Condition != "" {
		scope := fr.buildScope(node.ID)
		scope.Value = value
		scope.Iteration = iter
		result, err := fr.rt.conditions.Evaluate(ctx, node.Condition, scope.Env())
		if err != nil {
			return nil, err
		}
		shouldBreak = expressions.Truthy(result)
	}

	if shouldBreak || iter >= node.MaxIterations {
		fr.ec.ClearIteration(node.ID)
		return &firing{node: node, outputs: fr.loopOutputs(node, value, true), partial: true}, nil
	}

	fr.ec.SetIteration(node.ID, iter+1)
	region := fr.regions[node.ID]
	rearm := make([]string, 0, len(region))
	for id := range region {
		rearm = append(rearm, id)
	}
	sort.Strings(rearm)
	return &firing{node: node, outputs: fr.loopOutputs(node, value, false), partial: true, rearm: rearm}, nil
}

// loopOutputs selects the labels a loop firing produces: the exit label on
// exit, everything else on continue.
func (fr *flowRun) loopOutputs(node *schema.FlowNode, value any, exit bool) map[string]any {
	out := make(map[string]any)
	if len(node.Outputs) == 0 {
		if !exit {
			out[""] = value
		}
		return out
	}
	for _, o := range node.Outputs {
		if (o.Label == loopExitLabel) == exit {
			out[o.Label] = value
		}
	}
	return out
}

// fireAll produces the same value on every declared output, or the implicit
// one when none are declared.
func (fr *flowRun) fireAll(node *schema.FlowNode, value any) *firing {
	out := make(map[string]any)
	if len(node.Outputs) == 0 {
		out[""] = value
	} else {
		for _, o := range node.Outputs {
			out[o.Label] = value
		}
	}
	return &firing{node: node, outputs: out}
}

// apply folds one node's firing into the run state: binds outputs, resolves
// outgoing edges through their guards, and propagates skips.
func (fr *flowRun) apply(ctx context.Context, f *firing) {
	node := f.node

	if f.final {
		if !fr.finalSet {
			fr.finalSet = true
			fr.final = f.finalValue
		}
		fr.done[node.ID] = true
		return
	}

	// Loop nodes consume their satisfied inputs so the next arrival, via the
	// body's back-edge, re-triggers them.
	if node.Kind == schema.NodeKindLoop {
		for _, i := range fr.incoming[node.ID] {
			if fr.edges[i].status == edgeSatisfied {
				fr.edges[i] = edgeState{}
			}
		}
	}

	if len(f.rearm) > 0 {
		fr.rearmRegion(f.rearm)
	}

	for label, value := range f.outputs {
		fr.bind(node.ID, label, value)
	}

	for _, i := range fr.outgoing[node.ID] {
		edge := &fr.flow.Edges[i]
		value, fired := f.outputs[edge.SourceLabel()]
		if !fired {
			if !f.partial {
				fr.edges[i].status = edgeSkipped
			}
			continue
		}
		if edge.Condition != "" && !fr.guardPasses(ctx, edge, value) {
			fr.edges[i].status = edgeSkipped
			continue
		}
		fr.edges[i] = edgeState{status: edgeSatisfied, value: value}
	}

	// Loop nodes stay eligible so the body's back-edge can re-trigger them.
	if node.Kind != schema.NodeKindLoop {
		fr.done[node.ID] = true
	}
	fr.propagateSkips()
}

func (fr *flowRun) guardPasses(ctx context.Context, edge *schema.FlowEdge, value any) bool {
	scope := fr.buildScope(edge.SourceNode())
	scope.Value = value
	result, err := fr.rt.conditions.Evaluate(ctx, edge.Condition, scope.Env())
	if err != nil {
		// A guard that cannot evaluate selects nothing; the semantic stage
		// cannot pre-compile guards for every engine, so log and skip.
		fr.rt.logger.Warn("edge guard failed",
			"from", edge.From, "to", edge.To, "error", err.Error())
		return false
	}
	return expressions.Truthy(result)
}

// bind freezes a node output in the scope. Re-executed loop-body nodes
// overwrite their previous iteration's binding.
func (fr *flowRun) bind(nodeID, label string, value any) {
	ref := schema.PortRef(nodeID, label)
	if _, exists := fr.ec.Scope.Lookup(ref); exists {
		fr.ec.Scope.Rebind(ref, value)
		return
	}
	_ = fr.ec.Scope.Bind(ref, value)
	fr.bound[nodeID] = append(fr.bound[nodeID], ref)
}

// rearmRegion resets the loop body for the next iteration: edges inside the
// region return to pending, body nodes forget completion, and their bindings
// are dropped.
func (fr *flowRun) rearmRegion(region []string) {
	inRegion := make(map[string]bool, len(region))
	for _, id := range region {
		inRegion[id] = true
	}

	for i := range fr.flow.Edges {
		edge := &fr.flow.Edges[i]
		if inRegion[edge.SourceNode()] || inRegion[edge.To] {
			fr.edges[i] = edgeState{}
		}
	}
	for _, id := range region {
		delete(fr.done, id)
		delete(fr.skipped, id)
		fr.ec.Scope.Unbind(fr.bound[id]...)
		delete(fr.bound, id)
	}
}

// propagateSkips marks nodes whose every input is skipped as skipped, and
// cascades through their outgoing edges.
func (fr *flowRun) propagateSkips() {
	for changed := true; changed; {
		changed = false
		for i := range fr.flow.Nodes {
			node := &fr.flow.Nodes[i]
			id := node.ID
			if fr.done[id] || fr.skipped[id] || id == fr.flow.Entry {
				continue
			}
			in := fr.incoming[id]
			if len(in) == 0 {
				continue
			}
			allSkipped := true
			for _, e := range in {
				if fr.edges[e].status != edgeSkipped {
					allSkipped = false
					break
				}
			}
			if !allSkipped {
				continue
			}
			fr.skipped[id] = true
			for _, e := range fr.outgoing[id] {
				if fr.edges[e].status == edgePending {
					fr.edges[e].status = edgeSkipped
				}
			}
			changed = true
		}
	}
}

// collectReady returns the nodes whose join condition holds: no pending
// inputs and at least one satisfied. Loop nodes re-fire on any satisfied
// input; their remaining inputs stay pending by design.
func (fr *flowRun) collectReady() []string {
	var ready []string
	for i := range fr.flow.Nodes {
		node := &fr.flow.Nodes[i]
		id := node.ID
		if fr.done[id] || fr.skipped[id] {
			continue
		}
		in := fr.incoming[id]
		if len(in) == 0 {
			continue
		}

		satisfied, pending := 0, 0
		for _, e := range in {
			switch fr.edges[e].status {
			case edgeSatisfied:
				satisfied++
			case edgePending:
				pending++
			}
		}

		if node.Kind == schema.NodeKindLoop {
			if satisfied > 0 {
				ready = append(ready, id)
			}
			continue
		}
		if pending == 0 && satisfied > 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// inputValues returns the satisfied input values in edge declaration order.
func (fr *flowRun) inputValues(nodeID string) []any {
	var values []any
	for _, e := range fr.incoming[nodeID] {
		if fr.edges[e].status == edgeSatisfied {
			values = append(values, fr.edges[e].value)
		}
	}
	return values
}

// primaryInput returns the first satisfied input value, or the task input
// for the entry node.
func (fr *flowRun) primaryInput(nodeID string) any {
	for _, e := range fr.incoming[nodeID] {
		if fr.edges[e].status == edgeSatisfied {
			return fr.edges[e].value
		}
	}
	return fr.ec.Task
}

// buildScope snapshots the run scope for expression evaluation, exposing the
// iteration counter of the innermost active loop containing the node.
func (fr *flowRun) buildScope(nodeID string) *expressions.Scope {
	scope := fr.ec.Scope.Build()
	for loopID, region := range fr.regions {
		if !region[nodeID] {
			continue
		}
		if iter, active := fr.ec.Iteration(loopID); active {
			scope.Iteration = iter
		}
	}
	return scope
}

// loopRegion computes the body of a loop: nodes reachable from its continue
// outputs without passing back through the loop node.
func (fr *flowRun) loopRegion(node *schema.FlowNode) map[string]bool {
	region := make(map[string]bool)

	var frontier []string
	for _, e := range fr.outgoing[node.ID] {
		edge := &fr.flow.Edges[e]
		if edge.SourceLabel() == loopExitLabel && len(node.Outputs) > 0 {
			continue
		}
		frontier = append(frontier, edge.To)
	}

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if id == node.ID || region[id] {
			continue
		}
		region[id] = true
		for _, e := range fr.outgoing[id] {
			frontier = append(frontier, fr.flow.Edges[e].To)
		}
	}
	return region
}

// blockedNodes lists nodes left with pending inputs when the run drained,
// for dead-end diagnostics.
func (fr *flowRun) blockedNodes() []string {
	var blocked []string
	for i := range fr.flow.Nodes {
		id := fr.flow.Nodes[i].ID
		if fr.done[id] || fr.skipped[id] {
			continue
		}
		for _, e := range fr.incoming[id] {
			if fr.edges[e].status == edgePending {
				blocked = append(blocked, id)
				break
			}
		}
	}
	sort.Strings(blocked)
	return blocked
}
