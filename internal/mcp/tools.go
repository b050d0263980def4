package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

func (s *MCPServer) handleGetStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status, err := s.api.GetStatus(ctx)
	if err != nil {
		return textError("failed to get status: " + err.Error()), nil
	}
	return textJSON(status)
}

func (s *MCPServer) handleListNodes(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	nodes, err := s.api.ListNodes(ctx)
	if err != nil {
		return textError("failed to list nodes: " + err.Error()), nil
	}
	return textJSON(nodes)
}

func (s *MCPServer) handleFindByCapability(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	capability, err := req.RequireString("capability")
	if err != nil {
		return textError("missing required parameter: capability"), nil
	}
	nodes, err := s.api.FindByCapability(ctx, capability)
	if err != nil {
		return textError("failed to find nodes: " + err.Error()), nil
	}
	return textJSON(protocol.FindByCapabilityResponse{Capability: capability, Nodes: nodes})
}

func (s *MCPServer) handleSendCommand(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return textError("missing required parameter: target"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return textError("missing required parameter: action"), nil
	}
	params, _ := req.GetArguments()["params"].(map[string]any)
	return s.command(ctx, target, protocol.NewAction(action, params))
}

func (s *MCPServer) handlePingNode(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return textError("missing required parameter: target"), nil
	}
	return s.command(ctx, target, protocol.NewAction(protocol.ActionPing, nil))
}

func (s *MCPServer) handleRunShell(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return textError("missing required parameter: target"), nil
	}
	command, err := req.RequireString("command")
	if err != nil {
		return textError("missing required parameter: command"), nil
	}
	params := map[string]any{"command": command}
	if timeout := req.GetFloat("timeout", 0); timeout > 0 {
		params["timeout"] = timeout
	}
	return s.command(ctx, target, protocol.NewAction(protocol.ActionShell, params))
}

func (s *MCPServer) handleTakeScreenshot(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return textError("missing required parameter: target"), nil
	}
	raw, err := s.api.SendCommand(ctx, target, protocol.NewAction(protocol.ActionScreenshot, nil))
	if err != nil {
		return commandError(raw, err), nil
	}
	var shot protocol.ScreenshotResult
	if err := json.Unmarshal(raw, &shot); err != nil || shot.Image == "" {
		return textError("node returned no image: " + string(raw)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.NewImageContent(shot.Image, "image/png"),
		},
	}, nil
}

// command sends action and returns the node's response as JSON text.
func (s *MCPServer) command(ctx context.Context, target string, action protocol.Action) (*mcplib.CallToolResult, error) {
	raw, err := s.api.SendCommand(ctx, target, action)
	if err != nil {
		return commandError(raw, err), nil
	}
	return textJSON(raw)
}

// commandError reports a failed command. Remote errors keep their
// structured context (available nodes, declared capabilities).
func commandError(raw json.RawMessage, err error) *mcplib.CallToolResult {
	var perr *protocol.Error
	if errors.As(err, &perr) && len(raw) > 0 {
		return textError(string(raw))
	}
	return textError("command failed: " + err.Error())
}

// textResult returns a successful text result.
func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

// textError returns an error text result.
func textError(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// textJSON marshals v to indented JSON and returns it as a text result.
func textJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textError("failed to marshal response: " + err.Error()), nil
	}
	return textResult(string(data)), nil
}
