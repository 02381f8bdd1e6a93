package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rendis/agentgraph/internal/diagram"
	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/provider"
	"github.com/rendis/agentgraph/internal/record"
	"github.com/rendis/agentgraph/pkg/mcp"
	"github.com/rendis/agentgraph/pkg/schema"
)

const usage = `agentgraph executes declarative multi-agent flow documents.

Usage:
  agentgraph run      -doc <file> [-flow <id>] -task <text> [-events <db>]
  agentgraph validate -doc <file>
  agentgraph diagram  -doc <file> [-flow <id>]
  agentgraph serve    -doc <file> [-doc <file> ...] [-events <db>]

Environment (also read from .env):
  OPENAI_API_KEY   provider API key (required for run and serve)
  OPENAI_BASE_URL  OpenAI-compatible endpoint override
`

func main() {
	// .env is optional; real env vars win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := newLogger()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:], logger)
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:], logger)
	case "diagram":
		err = cmdDiagram(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("AGENTGRAPH_LOG_LEVEL"); v != "" {
		_ = level.UnmarshalText([]byte(v))
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func cmdRun(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	docPath := fs.String("doc", "", "flow document file (YAML or JSON)")
	flowID := fs.String("flow", "", "flow id (defaults to the document's only flow)")
	task := fs.String("task", "", "task input for the flow")
	eventsDB := fs.String("events", "", "libSQL database path for the run-event trail")
	_ = fs.Parse(args)

	if *docPath == "" {
		return fmt.Errorf("run: -doc is required")
	}

	library := mcp.NewLibrary()
	if _, err := library.LoadFile(*docPath); err != nil {
		return err
	}
	name := library.Names()[0]
	doc, _ := library.Get(name)

	id := *flowID
	if id == "" {
		if len(doc.Flows) != 1 {
			return fmt.Errorf("run: document has %d flows; pick one with -flow", len(doc.Flows))
		}
		id = doc.Flows[0].ID
	}

	eng, closeRec, err := buildEngine(*eventsDB, logger, true)
	if err != nil {
		return err
	}
	defer closeRec()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Run(ctx, doc, id, *task)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	docPath := fs.String("doc", "", "flow document file (YAML or JSON)")
	_ = fs.Parse(args)

	if *docPath == "" {
		return fmt.Errorf("validate: -doc is required")
	}

	library := mcp.NewLibrary()
	name, err := library.LoadFile(*docPath)
	if err != nil {
		return err
	}
	doc, _ := library.Get(name)

	eng, err := engine.New(engine.Options{})
	if err != nil {
		return err
	}
	result := eng.Validate(doc)

	out, err := json.MarshalIndent(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !result.Valid() {
		os.Exit(1)
	}
	return nil
}

func cmdDiagram(args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	docPath := fs.String("doc", "", "flow document file (YAML or JSON)")
	flowID := fs.String("flow", "", "flow id (defaults to the document's only flow)")
	_ = fs.Parse(args)

	if *docPath == "" {
		return fmt.Errorf("diagram: -doc is required")
	}

	library := mcp.NewLibrary()
	name, err := library.LoadFile(*docPath)
	if err != nil {
		return err
	}
	doc, _ := library.Get(name)

	id := *flowID
	if id == "" {
		if len(doc.Flows) != 1 {
			return fmt.Errorf("diagram: document has %d flows; pick one with -flow", len(doc.Flows))
		}
		id = doc.Flows[0].ID
	}

	flow := doc.Flow(id)
	if flow == nil {
		return fmt.Errorf("diagram: flow %q not found", id)
	}

	fmt.Print(diagram.RenderMermaid(flow))
	return nil
}

func cmdServe(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var docPaths multiFlag
	fs.Var(&docPaths, "doc", "flow document file; repeat to load several")
	eventsDB := fs.String("events", "", "libSQL database path for run-event trails")
	_ = fs.Parse(args)

	library := mcp.NewLibrary()
	for _, path := range docPaths {
		name, err := library.LoadFile(path)
		if err != nil {
			return err
		}
		logger.Info("document loaded", slog.String("name", name), slog.String("path", path))
	}

	eng, closeRec, err := buildEngine(*eventsDB, logger, false)
	if err != nil {
		return err
	}
	defer closeRec()

	server := mcp.NewFlowServer(mcp.ServerDeps{
		Engine:  eng,
		Library: library,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mcp server listening on stdio")
	return server.Serve(ctx)
}

// buildEngine assembles the engine from the environment: an OpenAI-compatible
// provider and, when -events is given, a libSQL recorder. Terminal prompting
// is disabled under serve, where stdio carries the MCP transport.
func buildEngine(eventsDB string, logger *slog.Logger, interactive bool) (*engine.Engine, func(), error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	var p provider.Provider
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		p = provider.NewOpenAICompatible(apiKey, baseURL)
	} else {
		p = provider.NewOpenAI(apiKey)
	}

	var rec record.Recorder
	closeRec := func() {}
	if eventsDB != "" {
		libsql, err := record.NewLibSQLRecorder(eventsDB)
		if err != nil {
			return nil, nil, err
		}
		rec = libsql
		closeRec = func() { _ = libsql.Close() }
	}

	opts := engine.Options{
		Provider: p,
		Recorder: rec,
		Logger:   logger,
	}
	if interactive {
		opts.RequestUserInput = promptOnTerminal
	}
	eng, err := engine.New(opts)
	if err != nil {
		closeRec()
		return nil, nil, err
	}
	return eng, closeRec, nil
}

// promptOnTerminal asks the operator for input when a group chat schedules a
// user turn.
func promptOnTerminal(_ context.Context, prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s\n> ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeCancelled, "user input unavailable: %s", err.Error())
	}
	return strings.TrimSpace(line), nil
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprintf("%v", []string(*m)) }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
