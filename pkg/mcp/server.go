package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/agentgraph/internal/engine"
)

// ServerDeps holds the dependencies for creating a FlowServer.
type ServerDeps struct {
	Engine  *engine.Engine
	Library *Library
	Logger  *slog.Logger
}

// FlowServer exposes the flow engine over MCP: flow.run executes a flow from
// a loaded document, flow.validate checks a document without running it, and
// flow.list enumerates what is loaded.
type FlowServer struct {
	engine    *engine.Engine
	library   *Library
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowServer creates a FlowServer with all tools registered.
func NewFlowServer(deps ServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	library := deps.Library
	if library == nil {
		library = NewLibrary()
	}

	s := &FlowServer{
		engine:  deps.Engine,
		library: library,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"agentgraph",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Agentgraph executes declarative multi-agent flow documents. Use flow.list to see loaded documents and their flows, flow.validate to check a document, and flow.run to execute a flow with a task."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Library returns the server's document library.
func (s *FlowServer) Library() *Library {
	return s.library
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Execute a flow from a loaded document and return its result: final output, transcript, tool results, and run events"),
		mcp.WithString("document", mcp.Required(), mcp.Description("Name of the loaded document")),
		mcp.WithString("flow", mcp.Description("Flow ID to run (defaults to the document's only flow)")),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task input handed to the flow's input node")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flow.validate",
		mcp.WithDescription("Validate a flow document (structural, semantic, and graph checks) without executing it"),
		mcp.WithString("document", mcp.Description("Name of a loaded document to validate")),
		mcp.WithObject("definition", mcp.Description("Inline document object to validate instead of a loaded one")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flow.list",
		mcp.WithDescription("List loaded documents with their flows, agents, and tools"),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flow.diagram",
		mcp.WithDescription("Render a flow from a loaded document as a Mermaid flowchart"),
		mcp.WithString("document", mcp.Required(), mcp.Description("Name of the loaded document")),
		mcp.WithString("flow", mcp.Description("Flow ID to render (defaults to the document's only flow)")),
	)
}
