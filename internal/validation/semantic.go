package validation

import (
	"fmt"
	"regexp"

	"github.com/rendis/agentgraph/pkg/schema"
)

// validateSemantic performs semantic analysis on the flow document.
// Checks: unique ids, cross-references (agents, tools, prompts, flows),
// per-kind node requirements, edge endpoints and labels, decision catch-all
// placement, handoff options.
func validateSemantic(doc *schema.FlowDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	agentIDs := collectIDs(result, "agents", len(doc.Agents), func(i int) string { return doc.Agents[i].ID })
	toolIDs := collectIDs(result, "tools", len(doc.Tools), func(i int) string { return doc.Tools[i].ID })
	collectIDs(result, "prompts", len(doc.Prompts), func(i int) string { return doc.Prompts[i].ID })
	flowIDs := collectIDs(result, "flows", len(doc.Flows), func(i int) string { return doc.Flows[i].ID })

	for i := range doc.Agents {
		path := fmt.Sprintf("agents[%d]", i)
		for j, toolID := range doc.Agents[i].Tools {
			if !toolIDs[toolID] {
				result.AddError(fmt.Sprintf("%s.tools[%d]", path, j), schema.ErrCodeValidation,
					fmt.Sprintf("references undeclared tool %q", toolID))
			}
		}
	}

	for i := range doc.Tools {
		def := &doc.Tools[i]
		path := fmt.Sprintf("tools[%d]", i)
		if (def.Kind == "http" || def.Kind == "jq") && def.Spec == "" {
			result.AddError(path+".spec", schema.ErrCodeValidation,
				fmt.Sprintf("%s tool %q requires a spec", def.Kind, def.ID))
		}
	}

	for i := range doc.Prompts {
		p := &doc.Prompts[i]
		if p.File == "" && p.Text == "" {
			result.AddError(fmt.Sprintf("prompts[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("prompt %q declares neither file nor text", p.ID))
		}
	}

	for i := range doc.Flows {
		validateFlowSemantic(doc, &doc.Flows[i], fmt.Sprintf("flows[%d]", i), agentIDs, toolIDs, flowIDs, result)
	}

	return result
}

// collectIDs checks uniqueness over an indexed collection and returns the id set.
func collectIDs(result *schema.ValidationResult, section string, n int, id func(i int) string) map[string]bool {
	ids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		v := id(i)
		if ids[v] {
			result.AddError(fmt.Sprintf("%s[%d].id", section, i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate id %q", v))
			continue
		}
		ids[v] = true
	}
	return ids
}

func validateFlowSemantic(doc *schema.FlowDocument, flow *schema.FlowDefinition, path string, agentIDs, toolIDs, flowIDs map[string]bool, result *schema.ValidationResult) {
	nodeIDs := make(map[string]bool, len(flow.Nodes))
	for i := range flow.Nodes {
		id := flow.Nodes[i].ID
		if nodeIDs[id] {
			result.AddError(fmt.Sprintf("%s.nodes[%d].id", path, i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", id))
			continue
		}
		nodeIDs[id] = true
	}

	if !nodeIDs[flow.Entry] {
		result.AddError(path+".entry", schema.ErrCodeValidation,
			fmt.Sprintf("entry references non-existent node %q", flow.Entry))
	}

	for i := range flow.Nodes {
		validateNodeSemantic(doc, flow, &flow.Nodes[i],
			fmt.Sprintf("%s.nodes[%d]", path, i), agentIDs, toolIDs, flowIDs, result)
	}

	for i := range flow.Edges {
		edge := &flow.Edges[i]
		edgePath := fmt.Sprintf("%s.edges[%d]", path, i)

		source := edge.SourceNode()
		if !nodeIDs[source] {
			result.AddError(edgePath+".from", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", source))
		} else if node := flow.Node(source); node != nil && !node.HasOutput(edge.SourceLabel()) {
			result.AddError(edgePath+".from", schema.ErrCodeValidation,
				fmt.Sprintf("node %q has no output %q", source, edge.SourceLabel()))
		}

		if !nodeIDs[edge.To] {
			result.AddError(edgePath+".to", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", edge.To))
		}
		if edge.To == flow.Entry {
			result.AddError(edgePath+".to", schema.ErrCodeValidation,
				fmt.Sprintf("entry node %q must not have incoming edges", flow.Entry))
		}
	}

	validateHandoffOptions(flow.Handoff, path+".handoff", agentIDs, result)
}

func validateNodeSemantic(doc *schema.FlowDocument, flow *schema.FlowDefinition, node *schema.FlowNode, path string, agentIDs, toolIDs, flowIDs map[string]bool, result *schema.ValidationResult) {
	if !node.Kind.IsValid() {
		result.AddError(path+".kind", schema.ErrCodeValidation,
			fmt.Sprintf("unknown node kind %q", node.Kind))
		return
	}

	switch node.Kind {
	case schema.NodeKindAgent:
		if node.Agent == "" {
			result.AddError(path+".agent", schema.ErrCodeValidation,
				fmt.Sprintf("agent node %q must reference an agent", node.ID))
		} else if !agentIDs[node.Agent] {
			result.AddError(path+".agent", schema.ErrCodeValidation,
				fmt.Sprintf("references undeclared agent %q", node.Agent))
		}
		for j, participant := range node.Participants {
			if !agentIDs[participant] {
				result.AddError(fmt.Sprintf("%s.participants[%d]", path, j), schema.ErrCodeValidation,
					fmt.Sprintf("references undeclared agent %q", participant))
			}
		}
		for j, toolID := range node.Tools {
			if !toolIDs[toolID] {
				result.AddError(fmt.Sprintf("%s.tools[%d]", path, j), schema.ErrCodeValidation,
					fmt.Sprintf("references undeclared tool %q", toolID))
			}
		}
		if node.Strategy == "magentic" && len(node.Participants) == 0 {
			result.AddError(path+".participants", schema.ErrCodeValidation,
				fmt.Sprintf("magentic node %q needs at least one participant to delegate to", node.ID))
		}

	case schema.NodeKindDecision:
		if len(node.Outputs) == 0 {
			result.AddError(path+".outputs", schema.ErrCodeValidation,
				fmt.Sprintf("decision node %q must declare outputs", node.ID))
		}
		// The conditionless catch-all, when present, must be the last output
		// and must be unique.
		for j, out := range node.Outputs {
			if out.Condition == "" && j != len(node.Outputs)-1 {
				result.AddError(fmt.Sprintf("%s.outputs[%d]", path, j), schema.ErrCodeValidation,
					fmt.Sprintf("catch-all output %q must be declared last", out.Label))
			}
		}

	case schema.NodeKindTool:
		if node.Tool == "" {
			result.AddError(path+".tool", schema.ErrCodeValidation,
				fmt.Sprintf("tool node %q must reference a tool", node.ID))
		} else if !toolIDs[node.Tool] {
			result.AddError(path+".tool", schema.ErrCodeValidation,
				fmt.Sprintf("references undeclared tool %q", node.Tool))
		}

	case schema.NodeKindLoop:
		if node.MaxIterations < 1 {
			result.AddError(path+".max_iterations", schema.ErrCodeValidation,
				fmt.Sprintf("loop node %q requires max_iterations >= 1", node.ID))
		}

	case schema.NodeKindSubflow:
		if node.Flow == "" {
			result.AddError(path+".flow", schema.ErrCodeValidation,
				fmt.Sprintf("subflow node %q must reference a flow", node.ID))
		} else if !flowIDs[node.Flow] {
			result.AddError(path+".flow", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent flow %q", node.Flow))
		}

	case schema.NodeKindMerge:
		incoming := 0
		for i := range flow.Edges {
			if flow.Edges[i].To == node.ID {
				incoming++
			}
		}
		if incoming < 2 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("merge node %q joins fewer than two inputs", node.ID))
		}
	}

	if node.Prompt != "" && doc.Prompt(node.Prompt) == nil {
		result.AddWarning(path+".prompt", schema.ErrCodeValidation,
			fmt.Sprintf("prompt %q is not declared; treated as inline text", node.Prompt))
	}
}

func validateHandoffOptions(opts *schema.HandoffOptions, path string, agentIDs map[string]bool, result *schema.ValidationResult) {
	if opts == nil {
		return
	}

	for i, alias := range opts.Aliases {
		if !agentIDs[alias.Target] {
			result.AddError(fmt.Sprintf("%s.aliases[%d].target", path, i), schema.ErrCodeValidation,
				fmt.Sprintf("references undeclared agent %q", alias.Target))
		}
	}

	for i, rule := range opts.Rules {
		rulePath := fmt.Sprintf("%s.rules[%d]", path, i)
		if !agentIDs[rule.Target] {
			result.AddError(rulePath+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references undeclared agent %q", rule.Target))
		}
		switch rule.Matcher.Kind {
		case "keywords_any", "keywords_all":
			if len(rule.Matcher.Keywords) == 0 {
				result.AddError(rulePath+".matcher.keywords", schema.ErrCodeValidation,
					"keyword matcher requires at least one keyword")
			}
		case "regex":
			if rule.Matcher.Pattern == "" {
				result.AddError(rulePath+".matcher.pattern", schema.ErrCodeValidation,
					"regex matcher requires a pattern")
			} else if _, err := regexp.Compile(rule.Matcher.Pattern); err != nil {
				result.AddError(rulePath+".matcher.pattern", schema.ErrCodeValidation,
					fmt.Sprintf("invalid pattern: %s", err.Error()))
			}
		}
	}
}
