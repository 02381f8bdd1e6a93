package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/agentgraph/pkg/schema"
)

// validateGraph runs graph-level checks on every flow: cycle detection,
// reachability from the entry node, parallel convergence, and static
// subflow recursion.
//
// Back-edges that target a loop node are permitted; the loop node bounds
// repetition at runtime via max_iterations. All other cycles are rejected.
func validateGraph(doc *schema.FlowDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i := range doc.Flows {
		checkFlowGraph(&doc.Flows[i], fmt.Sprintf("flows[%d]", i), result)
	}

	checkSubflowRecursion(doc, result)

	return result
}

func checkFlowGraph(flow *schema.FlowDefinition, path string, result *schema.ValidationResult) {
	// Adjacency over edges whose endpoints exist. Edges into loop nodes are
	// excluded from cycle analysis but kept for reachability.
	forward := make(map[string][]string, len(flow.Nodes))
	cycleEdges := make(map[string][]string, len(flow.Nodes))
	inDegree := make(map[string]int, len(flow.Nodes))

	for i := range flow.Nodes {
		id := flow.Nodes[i].ID
		forward[id] = nil
		cycleEdges[id] = nil
		inDegree[id] = 0
	}

	for i := range flow.Edges {
		edge := &flow.Edges[i]
		from := edge.SourceNode()
		if _, ok := inDegree[from]; !ok {
			continue
		}
		if _, ok := inDegree[edge.To]; !ok {
			continue
		}
		forward[from] = append(forward[from], edge.To)

		target := flow.Node(edge.To)
		if target != nil && target.Kind == schema.NodeKindLoop {
			continue
		}
		cycleEdges[from] = append(cycleEdges[from], edge.To)
		inDegree[edge.To]++
	}

	// Kahn's algorithm. Nodes left unprocessed are part of a cycle.
	queue := make([]string, 0, len(inDegree))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, next := range cycleEdges[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed < len(flow.Nodes) {
		var cyclic []string
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		result.AddError(path+".edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("flow %q contains a cycle involving nodes %v", flow.ID, cyclic))
	}

	// Reachability over the full edge set, including loop back-edges.
	if _, ok := inDegree[flow.Entry]; !ok {
		return
	}
	reached := map[string]bool{flow.Entry: true}
	frontier := []string{flow.Entry}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, next := range forward[id] {
			if !reached[next] {
				reached[next] = true
				frontier = append(frontier, next)
			}
		}
	}

	// A node with no path from the entry can never fire, and any join it
	// feeds would starve at runtime. Fatal, not advisory.
	for i := range flow.Nodes {
		id := flow.Nodes[i].ID
		if !reached[id] {
			result.AddError(fmt.Sprintf("%s.nodes[%d]", path, i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from entry %q", id, flow.Entry))
		}
	}

	checkParallelConvergence(flow, path, forward, result)
}

// checkParallelConvergence enforces the converge flag on parallel nodes: when
// set, every fanned-out branch must be able to reach a common join node, so
// nothing downstream runs until all branches settle there. Non-converging
// fan-outs must say converge=false explicitly.
func checkParallelConvergence(flow *schema.FlowDefinition, path string, forward map[string][]string, result *schema.ValidationResult) {
	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		if node.Kind != schema.NodeKindParallel {
			continue
		}
		nodePath := fmt.Sprintf("%s.nodes[%d]", path, i)

		var heads []string
		for j := range flow.Edges {
			if flow.Edges[j].SourceNode() == node.ID {
				heads = append(heads, flow.Edges[j].To)
			}
		}
		if len(heads) == 0 {
			result.AddError(nodePath, schema.ErrCodeValidation,
				fmt.Sprintf("parallel node %q has no outgoing branches", node.ID))
			continue
		}
		if !node.Converge || len(heads) < 2 {
			continue
		}

		common := downstreamOf(heads[0], forward)
		for _, head := range heads[1:] {
			branch := downstreamOf(head, forward)
			for id := range common {
				if !branch[id] {
					delete(common, id)
				}
			}
		}
		if len(common) == 0 {
			result.AddError(nodePath+".converge", schema.ErrCodeValidation,
				fmt.Sprintf("parallel node %q requires convergence but its branches share no join node", node.ID))
		}
	}
}

// downstreamOf returns the node and everything reachable from it.
func downstreamOf(id string, forward map[string][]string) map[string]bool {
	reached := map[string]bool{id: true}
	frontier := []string{id}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, to := range forward[next] {
			if !reached[to] {
				reached[to] = true
				frontier = append(frontier, to)
			}
		}
	}
	return reached
}

// checkSubflowRecursion walks the flow-to-subflow reference graph and warns on
// static cycles. A decision node can still route around the recursive call,
// so this is not an error; the executor enforces the invocation-time check.
func checkSubflowRecursion(doc *schema.FlowDocument, result *schema.ValidationResult) {
	refs := make(map[string][]string, len(doc.Flows))
	for i := range doc.Flows {
		flow := &doc.Flows[i]
		for j := range flow.Nodes {
			node := &flow.Nodes[j]
			if node.Kind == schema.NodeKindSubflow && node.Flow != "" {
				refs[flow.ID] = append(refs[flow.ID], node.Flow)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(refs))
	reported := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, next := range refs[id] {
			if visit(next) {
				state[id] = done
				return true
			}
		}
		state[id] = done
		return false
	}

	for i := range doc.Flows {
		id := doc.Flows[i].ID
		state = make(map[string]int, len(refs))
		if visit(id) && !reported[id] {
			reported[id] = true
			result.AddWarning(fmt.Sprintf("flows[%d]", i), schema.ErrCodeCycleDetected,
				fmt.Sprintf("flow %q participates in a subflow reference cycle; recursion is rejected at invocation time", id))
		}
	}
}
