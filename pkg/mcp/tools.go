package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/agentgraph/internal/diagram"
	"github.com/rendis/agentgraph/pkg/schema"
)

// handleRun executes a flow from a loaded document.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docName, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError("document is required"), nil
	}
	task, err := req.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError("task is required"), nil
	}

	doc, ok := s.library.Get(docName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("document %q is not loaded", docName)), nil
	}

	flowID := req.GetString("flow", "")
	if flowID == "" {
		if len(doc.Flows) != 1 {
			return mcp.NewToolResultError(fmt.Sprintf(
				"document %q has %d flows; specify one with the flow argument", docName, len(doc.Flows))), nil
		}
		flowID = doc.Flows[0].ID
	}

	result, runErr := s.engine.Run(ctx, doc, flowID, task)
	if runErr != nil {
		return runError(runErr), nil
	}
	return marshalResult(result)
}

// handleValidate checks a loaded or inline document without executing it.
func (s *FlowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docName := req.GetString("document", "")
	inline := mcp.ParseStringMap(req, "definition", nil)

	var doc *schema.FlowDocument
	switch {
	case docName != "":
		loaded, ok := s.library.Get(docName)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("document %q is not loaded", docName)), nil
		}
		doc = loaded
	case inline != nil:
		data, err := json.Marshal(inline)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		parsed, err := schema.FromJSON(data)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		doc = parsed
	default:
		return mcp.NewToolResultError("one of document or definition is required"), nil
	}

	result := s.engine.Validate(doc)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleList enumerates loaded documents and what they declare.
func (s *FlowServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type flowSummary struct {
		ID    string `json:"id"`
		Entry string `json:"entry"`
		Nodes int    `json:"nodes"`
	}
	type docSummary struct {
		Name   string        `json:"name"`
		Flows  []flowSummary `json:"flows"`
		Agents []string      `json:"agents,omitempty"`
		Tools  []string      `json:"tools,omitempty"`
	}

	var out []docSummary
	for _, name := range s.library.Names() {
		doc, ok := s.library.Get(name)
		if !ok {
			continue
		}
		summary := docSummary{Name: name}
		for _, flow := range doc.Flows {
			summary.Flows = append(summary.Flows, flowSummary{
				ID:    flow.ID,
				Entry: flow.Entry,
				Nodes: len(flow.Nodes),
			})
		}
		for _, agent := range doc.Agents {
			summary.Agents = append(summary.Agents, agent.ID)
		}
		for _, tool := range doc.Tools {
			summary.Tools = append(summary.Tools, tool.ID)
		}
		out = append(out, summary)
	}

	return marshalResult(map[string]any{"documents": out})
}

// handleDiagram renders a flow as a Mermaid flowchart.
func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docName, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError("document is required"), nil
	}

	doc, ok := s.library.Get(docName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("document %q is not loaded", docName)), nil
	}

	flowID := req.GetString("flow", "")
	if flowID == "" {
		if len(doc.Flows) != 1 {
			return mcp.NewToolResultError(fmt.Sprintf(
				"document %q has %d flows; specify one with the flow argument", docName, len(doc.Flows))), nil
		}
		flowID = doc.Flows[0].ID
	}

	flow := doc.Flow(flowID)
	if flow == nil {
		return mcp.NewToolResultError(fmt.Sprintf("flow %q not found in document %q", flowID, docName)), nil
	}

	return mcp.NewToolResultText(diagram.RenderMermaid(flow)), nil
}

// runError renders a run failure as a structured tool error, keeping the
// FlowError code and node attribution visible to the calling model.
func runError(err error) *mcp.CallToolResult {
	var ferr *schema.FlowError
	if errors.As(err, &ferr) {
		if data, merr := json.Marshal(ferr); merr == nil {
			return mcp.NewToolResultError(string(data))
		}
	}
	return mcp.NewToolResultError(err.Error())
}

// marshalResult converts a value to a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
