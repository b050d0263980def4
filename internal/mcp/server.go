package mcp

import (
	"context"
	"log"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/pkg/client"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// MCPServer exposes the relay's nodes to AI assistants via MCP.
type MCPServer struct {
	api    RelayAPI
	logger zerolog.Logger
}

// New creates an MCPServer. Call Run() to start serving on stdio.
func New(cfg Config, logger zerolog.Logger) (*MCPServer, error) {
	api, err := NewAPIClient(cfg.Relay.URL, client.WithCommandSecret(cfg.Security.CommandSecret))
	if err != nil {
		return nil, err
	}
	return &MCPServer{
		api:    api,
		logger: logger.With().Str("component", "mcp").Logger(),
	}, nil
}

// SetRelayAPI overrides the relay client. Intended for testing with a mock.
func (s *MCPServer) SetRelayAPI(api RelayAPI) {
	s.api = api
}

// Run registers the tools and serves on stdio until stdin is closed or ctx
// is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	srv := mcpserver.NewMCPServer(
		"jarvis",
		Version,
		mcpserver.WithRecovery(),
	)

	s.registerTools(srv)

	stdio := mcpserver.NewStdioServer(srv)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))

	s.logger.Info().Msg("MCP server starting on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *MCPServer) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcplib.NewTool("get_status",
			mcplib.WithDescription("Get relay status: uptime, event bus health and number of connected nodes"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetStatus,
	)

	srv.AddTool(
		mcplib.NewTool("list_nodes",
			mcplib.WithDescription("List connected nodes with their capabilities and connection times"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListNodes,
	)

	srv.AddTool(
		mcplib.NewTool("find_by_capability",
			mcplib.WithDescription("Find the nodes that declare a capability (e.g. \"gpu\", \"ollama\", \"screenshot\")"),
			mcplib.WithString("capability", mcplib.Required(), mcplib.Description("Capability name")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleFindByCapability,
	)

	srv.AddTool(
		mcplib.NewTool("send_command",
			mcplib.WithDescription("Send an action to a node and return its raw response"),
			mcplib.WithString("target", mcplib.Required(), mcplib.Description("Node name")),
			mcplib.WithString("action", mcplib.Required(), mcplib.Description("Action type (e.g. \"ping\", \"info\", \"shell\", \"click\", \"lua\")")),
			mcplib.WithObject("params", mcplib.Description("Action parameters (e.g. {\"command\": \"uptime\"} for shell)")),
		),
		s.handleSendCommand,
	)

	srv.AddTool(
		mcplib.NewTool("ping_node",
			mcplib.WithDescription("Check that a node is connected and answering"),
			mcplib.WithString("target", mcplib.Required(), mcplib.Description("Node name")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handlePingNode,
	)

	srv.AddTool(
		mcplib.NewTool("run_shell",
			mcplib.WithDescription("Run a shell command on a node and return stdout, stderr and exit code"),
			mcplib.WithString("target", mcplib.Required(), mcplib.Description("Node name")),
			mcplib.WithString("command", mcplib.Required(), mcplib.Description("Command line passed to the node's shell")),
			mcplib.WithNumber("timeout", mcplib.Description("Timeout in seconds (node default 30)")),
		),
		s.handleRunShell,
	)

	srv.AddTool(
		mcplib.NewTool("take_screenshot",
			mcplib.WithDescription("Capture a node's screen as a PNG image"),
			mcplib.WithString("target", mcplib.Required(), mcplib.Description("Node name")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleTakeScreenshot,
	)
}
