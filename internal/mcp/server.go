// Package mcp is the operator surface: an MCP server exposing session
// control, progress inspection, veto, and audit/knowledge queries to an
// agent or human operator. It never drives the device directly; everything
// goes through the exploration components.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"screenscout/internal/audit"
	"screenscout/internal/config"
	"screenscout/internal/explore"
	"screenscout/internal/knowledge"
)

// Server wires the MCP runtime to the exploration components.
type Server struct {
	cfg       config.Config
	log       *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Deps are the exploration components the tools operate on.
type Deps struct {
	Supervisor *explore.Supervisor
	Progress   *explore.ProgressHolder
	Arbiter    *explore.Arbiter
	Recovery   *explore.Escalator
	Navigator  *explore.Navigator
	Audit      *audit.Sink
	Engine     *knowledge.Engine
}

// NewServer constructs the operator server and registers all tools.
func NewServer(cfg config.Config, deps Deps, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		log:       log.With(zap.String("component", "mcp")),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerTool(&StartExplorationTool{supervisor: deps.Supervisor})
	server.registerTool(&StopExplorationTool{supervisor: deps.Supervisor})
	server.registerTool(&ExplorationStatusTool{
		supervisor: deps.Supervisor,
		progress:   deps.Progress,
		navigator:  deps.Navigator,
	})
	server.registerTool(&VetoActionTool{arbiter: deps.Arbiter})
	server.registerTool(&TakeoverStateTool{arbiter: deps.Arbiter})
	server.registerTool(&RecoveryStatsTool{recovery: deps.Recovery})
	server.registerTool(&RecentAuditTool{sink: deps.Audit})
	server.registerTool(&QueryFactsTool{engine: deps.Engine})
	server.registerTool(&SubmitRuleTool{engine: deps.Engine})

	return server, nil
}

// Start launches the stdio server.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful
// shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer,
		mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by tests).
func (s *Server) ExecuteTool(name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(context.Background(), args)
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
