package engine

import (
	"context"

	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/pkg/schema"
)

// executeSubflow invokes another flow as a nested run. The child inherits a
// snapshot of the parent transcript and the node's input value as its task;
// its new turns lift into the parent when it completes, and its final output
// binds to this node. Recursion is rejected against the call stack before any
// model or tool call.
func (fr *flowRun) executeSubflow(ctx context.Context, node *schema.FlowNode) (*firing, error) {
	if fr.ec.OnStack(node.Flow) {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"subflow %q is already executing; recursive invocation is not allowed", node.Flow).
			WithDetails(map[string]any{"call_stack": fr.ec.CallStack})
	}

	target := fr.rt.doc.Flow(node.Flow)
	if target == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found in document", node.Flow)
	}

	child := fr.ec.Child(target, fr.primaryInput(node.ID))
	mark := child.Transcript.Len()

	fr.rt.emit(ctx, fr.ec, schema.EventSubflowStarted, node.ID, "", map[string]any{"flow": node.Flow})

	childCtx := logging.WithFlowID(ctx, target.ID)
	output, err := fr.rt.executeFlow(childCtx, child)
	if err != nil {
		return nil, err
	}

	fr.ec.Transcript.AppendAll(child.Transcript.Since(mark))
	for id, result := range child.ToolResults() {
		fr.ec.RecordToolResult(node.Flow+"/"+id, result)
	}

	fr.rt.emit(ctx, fr.ec, schema.EventSubflowCompleted, node.ID, "", map[string]any{
		"flow":   node.Flow,
		"output": output,
	})

	return fr.fireAll(node, output), nil
}
