// Package mcp exposes script inspection and checkpoints as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/marionette"
	"github.com/aretw0/marionette/internal/logging"
	"github.com/aretw0/marionette/internal/presentation/graph"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/inspect"
	"github.com/aretw0/marionette/pkg/ports"
	"github.com/aretw0/marionette/pkg/script"
)

const catalogURI = "marionette://catalog"

// ScriptArgs carries a script in JSON or YAML form.
type ScriptArgs struct {
	Script string `json:"script"`
}

// SearchArgs is the input of search_script.
type SearchArgs struct {
	Script string `json:"script"`
	Query  string `json:"query"`
}

// GraphArgs is the input of graph_script.
type GraphArgs struct {
	Script     string `json:"script"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// CheckpointArgs selects a checkpoint.
type CheckpointArgs struct {
	ID string `json:"id"`
}

// ValidateResult is the output of validate_script.
type ValidateResult struct {
	Valid    bool     `json:"valid" jsonschema_description:"Whether the script can be played as is"`
	Problems []string `json:"problems,omitempty" jsonschema_description:"Blocking findings"`
}

// SearchResult is the output of search_script.
type SearchResult struct {
	Hits []inspect.Hit `json:"hits" jsonschema_description:"Matching actions and pipes"`
}

// CheckpointList is the output of list_checkpoints.
type CheckpointList struct {
	IDs []string `json:"ids"`
}

// Server wraps an MCPServer with the marionette tools.
type Server struct {
	catalog   *marionette.Catalog
	store     ports.CheckpointStore
	resolver  ports.ExtensionResolver
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithStore registers the checkpoint tools.
func WithStore(store ports.CheckpointStore) Option {
	return func(s *Server) { s.store = store }
}

// WithResolver checks dependencies during inspection.
func WithResolver(r ports.ExtensionResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the MCP server. A nil catalog means marionette.NewCatalog().
func NewServer(catalog *marionette.Catalog, opts ...Option) *Server {
	if catalog == nil {
		catalog = marionette.NewCatalog()
	}
	s := &Server{
		catalog:   catalog,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("marionette-mcp", strings.TrimSpace(marionette.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over server-sent events until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(fmt.Sprintf("http://localhost:%d", port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening (sse)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_types",
		mcp.WithDescription("List every action and pipe type with its parameter schema."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := json.Marshal(s.catalog.Describe())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})

	scriptParam := mcp.WithString("script", mcp.Required(), mcp.Description("Script source, JSON or YAML"))

	s.mcpServer.AddTool(mcp.NewTool("inspect_script",
		mcp.WithDescription("Statically analyse a script: type counts, parameter violations, inputs, outputs and migrations."),
		scriptParam,
		mcp.WithOutputSchema[inspect.Report](),
	), mcp.NewStructuredToolHandler(s.handleInspect))

	s.mcpServer.AddTool(mcp.NewTool("validate_script",
		mcp.WithDescription("Check whether a script can be played and list blocking problems."),
		scriptParam,
		mcp.WithOutputSchema[ValidateResult](),
	), mcp.NewStructuredToolHandler(s.handleValidate))

	s.mcpServer.AddTool(mcp.NewTool("search_script",
		mcp.WithDescription("Find actions and pipes. Terms: type:<glob>, id:<glob>, param:<name>=<glob> or a bare glob."),
		scriptParam,
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithOutputSchema[SearchResult](),
	), mcp.NewStructuredToolHandler(s.handleSearch))

	s.mcpServer.AddTool(mcp.NewTool("graph_script",
		mcp.WithDescription("Render the action tree as a Mermaid flowchart, optionally marking a checkpoint's playhead."),
		scriptParam,
		mcp.WithString("checkpoint", mcp.Description("Checkpoint id to overlay (optional)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args GraphArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := s.handleGraph(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	})

	if s.store == nil {
		return
	}

	s.mcpServer.AddTool(mcp.NewTool("list_checkpoints",
		mcp.WithDescription("List stored checkpoint ids."),
		mcp.WithOutputSchema[CheckpointList](),
	), mcp.NewStructuredToolHandler(s.handleListCheckpoints))

	s.mcpServer.AddTool(mcp.NewTool("get_checkpoint",
		mcp.WithDescription("Load a stored checkpoint."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Checkpoint id")),
	), mcp.NewStructuredToolHandler(s.handleGetCheckpoint))

	s.mcpServer.AddTool(mcp.NewTool("delete_checkpoint",
		mcp.WithDescription("Delete a stored checkpoint."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Checkpoint id")),
		mcp.WithDestructiveHintAnnotation(true),
	), mcp.NewStructuredToolHandler(s.handleDeleteCheckpoint))
}

func (s *Server) decode(src string) (*script.Script, error) {
	if strings.TrimSpace(src) == "" {
		return nil, domain.InvalidScript("empty script")
	}
	return marionette.Decode([]byte(src), s.catalog)
}

func (s *Server) handleInspect(ctx context.Context, request mcp.CallToolRequest, args ScriptArgs) (inspect.Report, error) {
	sc, err := s.decode(args.Script)
	if err != nil {
		return inspect.Report{}, err
	}
	report := inspect.Inspect(sc, s.catalog)
	if err := report.CheckDependencies(ctx, s.resolver, sc.Dependencies); err != nil {
		return inspect.Report{}, err
	}
	return *report, nil
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest, args ScriptArgs) (ValidateResult, error) {
	sc, err := s.decode(args.Script)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeInvalidScript {
			return ValidateResult{Problems: []string{err.Error()}}, nil
		}
		return ValidateResult{}, err
	}
	report := inspect.Inspect(sc, s.catalog)
	if err := report.CheckDependencies(ctx, s.resolver, sc.Dependencies); err != nil {
		return ValidateResult{}, err
	}
	return ValidateResult{Valid: report.Valid(), Problems: report.Problems()}, nil
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest, args SearchArgs) (SearchResult, error) {
	sc, err := s.decode(args.Script)
	if err != nil {
		return SearchResult{}, err
	}
	hits, err := inspect.Search(sc, args.Query)
	if err != nil {
		return SearchResult{}, err
	}
	if hits == nil {
		hits = []inspect.Hit{}
	}
	return SearchResult{Hits: hits}, nil
}

func (s *Server) handleGraph(ctx context.Context, args GraphArgs) (string, error) {
	sc, err := s.decode(args.Script)
	if err != nil {
		return "", err
	}
	var overlay *graph.Overlay
	if args.Checkpoint != "" {
		if s.store == nil {
			return "", marionette.ErrNoStore
		}
		cp, err := s.store.Load(ctx, args.Checkpoint)
		if err != nil {
			return "", fmt.Errorf("load checkpoint %s: %w", args.Checkpoint, err)
		}
		overlay = graph.OverlayFromCheckpoint(cp)
	}
	return graph.GenerateMermaid(sc, overlay), nil
}

func (s *Server) handleListCheckpoints(ctx context.Context, request mcp.CallToolRequest, args struct{}) (CheckpointList, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return CheckpointList{}, err
	}
	if ids == nil {
		ids = []string{}
	}
	return CheckpointList{IDs: ids}, nil
}

func (s *Server) handleGetCheckpoint(ctx context.Context, request mcp.CallToolRequest, args CheckpointArgs) (domain.Checkpoint, error) {
	if args.ID == "" {
		return domain.Checkpoint{}, errors.New("id is required")
	}
	cp, err := s.store.Load(ctx, args.ID)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	return *cp, nil
}

func (s *Server) handleDeleteCheckpoint(ctx context.Context, request mcp.CallToolRequest, args CheckpointArgs) (CheckpointList, error) {
	if _, err := s.store.Load(ctx, args.ID); err != nil {
		return CheckpointList{}, err
	}
	if err := s.store.Delete(ctx, args.ID); err != nil {
		return CheckpointList{}, err
	}
	s.logger.Info("checkpoint deleted", "id", args.ID)
	return s.handleListCheckpoints(ctx, request, struct{}{})
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(catalogURI, "Action and pipe catalog",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.catalog.Describe())
		if err != nil {
			return nil, fmt.Errorf("failed to describe catalog: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      catalogURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
