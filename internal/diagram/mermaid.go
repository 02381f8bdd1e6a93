package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/agentgraph/pkg/schema"
)

// RenderMermaid renders a flow definition as a Mermaid flowchart. Node shapes
// follow kind: decisions are diamonds, loops double-bracketed, input/output
// circles, agents plain boxes. Edge labels carry output ports and guards.
func RenderMermaid(flow *schema.FlowDefinition) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	b.WriteString(fmt.Sprintf("    %%%% flow: %s\n", flow.ID))

	for i := range flow.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", nodeDef(&flow.Nodes[i])))
	}

	for i := range flow.Edges {
		edge := &flow.Edges[i]
		label := edgeLabel(edge)
		if label != "" {
			b.WriteString(fmt.Sprintf("    %s -->|%s| %s\n",
				safeID(edge.SourceNode()), label, safeID(edge.To)))
			continue
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n",
			safeID(edge.SourceNode()), safeID(edge.To)))
	}

	return b.String()
}

func nodeDef(node *schema.FlowNode) string {
	id := safeID(node.ID)
	label := nodeLabel(node)

	switch node.Kind {
	case schema.NodeKindInput, schema.NodeKindOutput:
		return fmt.Sprintf("%s((%q))", id, label)
	case schema.NodeKindDecision:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.NodeKindLoop, schema.NodeKindParallel:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case schema.NodeKindMerge:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.NodeKindSubflow:
		return fmt.Sprintf("%s[/%q/]", id, label)
	default: // agent, tool
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

func nodeLabel(node *schema.FlowNode) string {
	if node.Name != "" {
		return node.Name
	}
	switch node.Kind {
	case schema.NodeKindAgent:
		return node.ID + ": " + node.Agent
	case schema.NodeKindTool:
		return node.ID + ": " + node.Tool
	case schema.NodeKindSubflow:
		return node.ID + ": " + node.Flow
	case schema.NodeKindLoop:
		return fmt.Sprintf("%s (max %d)", node.ID, node.MaxIterations)
	default:
		return node.ID
	}
}

// edgeLabel combines the source output port and the guard condition.
func edgeLabel(edge *schema.FlowEdge) string {
	parts := make([]string, 0, 2)
	if port := edge.SourceLabel(); port != "" {
		parts = append(parts, port)
	}
	if edge.Label != "" {
		parts = append(parts, edge.Label)
	} else if edge.Condition != "" {
		parts = append(parts, edge.Condition)
	}
	return strings.Join(parts, ": ")
}

// safeID converts a node id to a Mermaid-safe identifier.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", "/", "_")
	return r.Replace(id)
}
