package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// mockAPI implements RelayAPI for unit tests. Commands are answered by
// respond, which defaults to echoing the action.
type mockAPI struct {
	status  *protocol.StatusResponse
	nodes   protocol.ListNodesResponse
	found   map[string][]string
	respond func(target string, action protocol.Action) (json.RawMessage, error)

	lastTarget string
	lastAction protocol.Action
}

func (m *mockAPI) GetStatus(context.Context) (*protocol.StatusResponse, error) {
	return m.status, nil
}

func (m *mockAPI) ListNodes(context.Context) (protocol.ListNodesResponse, error) {
	return m.nodes, nil
}

func (m *mockAPI) FindByCapability(_ context.Context, capability string) ([]string, error) {
	if nodes, ok := m.found[capability]; ok {
		return nodes, nil
	}
	return []string{}, nil
}

func (m *mockAPI) SendCommand(_ context.Context, target string, action protocol.Action) (json.RawMessage, error) {
	m.lastTarget, m.lastAction = target, action
	if m.respond != nil {
		return m.respond(target, action)
	}
	return json.Marshal(action)
}

func toolRequest(args map[string]any) mcplib.CallToolRequest {
	req := mcplib.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatalf("content = %T, want text", result.Content[0])
	}
	return text.Text
}

func TestGetStatus(t *testing.T) {
	s := &MCPServer{api: &mockAPI{
		status: &protocol.StatusResponse{Status: "ok", Uptime: "1h30m", NATSRunning: true, NodeCount: 2},
	}}

	result, err := s.handleGetStatus(context.Background(), mcplib.CallToolRequest{})
	if err != nil || result.IsError {
		t.Fatalf("get_status failed: %v %v", err, result)
	}
	var status protocol.StatusResponse
	if err := json.Unmarshal([]byte(resultText(t, result)), &status); err != nil {
		t.Fatal(err)
	}
	if status.NodeCount != 2 || !status.NATSRunning {
		t.Errorf("status = %+v", status)
	}
}

func TestListNodes(t *testing.T) {
	s := &MCPServer{api: &mockAPI{
		nodes: protocol.ListNodesResponse{
			Nodes: []string{"cad-station"},
			Registry: map[string]protocol.NodeInfo{
				"cad-station": {Capabilities: protocol.Capabilities{"gpu": "RTX 4070"}, Online: true},
			},
		},
	}}

	result, _ := s.handleListNodes(context.Background(), mcplib.CallToolRequest{})
	var nodes protocol.ListNodesResponse
	if err := json.Unmarshal([]byte(resultText(t, result)), &nodes); err != nil {
		t.Fatal(err)
	}
	if nodes.Registry["cad-station"].Capabilities["gpu"] != "RTX 4070" {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestFindByCapability(t *testing.T) {
	s := &MCPServer{api: &mockAPI{found: map[string][]string{"ollama": {"A"}}}}

	result, _ := s.handleFindByCapability(context.Background(), toolRequest(map[string]any{"capability": "ollama"}))
	if got := resultText(t, result); !strings.Contains(got, `"A"`) {
		t.Errorf("find ollama = %s", got)
	}

	result, _ = s.handleFindByCapability(context.Background(), toolRequest(nil))
	if !result.IsError {
		t.Error("missing capability should be an error result")
	}
}

func TestSendCommand(t *testing.T) {
	api := &mockAPI{}
	s := &MCPServer{api: api}

	result, err := s.handleSendCommand(context.Background(), toolRequest(map[string]any{
		"target": "plc-gateway",
		"action": "shell",
		"params": map[string]any{"command": "uptime", "action": "ignored"},
	}))
	if err != nil || result.IsError {
		t.Fatalf("send_command failed: %v %s", err, resultText(t, result))
	}
	if api.lastTarget != "plc-gateway" || api.lastAction.Name() != "shell" {
		t.Fatalf("sent %s to %s", api.lastAction.Name(), api.lastTarget)
	}
	if api.lastAction["command"] != "uptime" {
		t.Errorf("params not forwarded: %v", api.lastAction)
	}
}

func TestSendCommandRemoteError(t *testing.T) {
	raw := json.RawMessage(`{"error":"node 'ghost' not found","kind":"target_not_found","available_nodes":[]}`)
	s := &MCPServer{api: &mockAPI{respond: func(string, protocol.Action) (json.RawMessage, error) {
		res, _ := protocol.DecodeResult(raw)
		return raw, res.Err
	}}}

	result, _ := s.handlePingNode(context.Background(), toolRequest(map[string]any{"target": "ghost"}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if got := resultText(t, result); !strings.Contains(got, "available_nodes") {
		t.Errorf("structured context lost: %s", got)
	}
}

func TestRunShell(t *testing.T) {
	api := &mockAPI{}
	s := &MCPServer{api: api}

	s.handleRunShell(context.Background(), toolRequest(map[string]any{
		"target":  "edge",
		"command": "df -h",
		"timeout": float64(10),
	}))
	if api.lastAction["command"] != "df -h" || api.lastAction["timeout"] != float64(10) {
		t.Fatalf("shell action = %v", api.lastAction)
	}

	result, _ := s.handleRunShell(context.Background(), toolRequest(map[string]any{"target": "edge"}))
	if !result.IsError {
		t.Error("missing command should be an error result")
	}
}

func TestTakeScreenshot(t *testing.T) {
	s := &MCPServer{api: &mockAPI{respond: func(string, protocol.Action) (json.RawMessage, error) {
		return json.Marshal(protocol.ScreenshotResult{Image: "iVBORw0KGgo=", Format: "png"})
	}}}

	result, err := s.handleTakeScreenshot(context.Background(), toolRequest(map[string]any{"target": "desk"}))
	if err != nil || result.IsError {
		t.Fatalf("take_screenshot failed: %v", err)
	}
	img, ok := result.Content[0].(mcplib.ImageContent)
	if !ok {
		t.Fatalf("content = %T, want image", result.Content[0])
	}
	if img.Data != "iVBORw0KGgo=" || img.MIMEType != "image/png" {
		t.Errorf("image = %+v", img)
	}
}

func TestAPIClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "ok", NodeCount: 3, StartedAt: time.Now()})
	}))
	defer srv.Close()

	api, err := NewAPIClient("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	status, err := api.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.NodeCount != 3 {
		t.Errorf("node_count = %d", status.NodeCount)
	}
}

func TestHTTPBase(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"ws://relay:8765", "http://relay:8765", false},
		{"wss://relay.example.com/ws", "https://relay.example.com", false},
		{"http://relay:8765", "", true},
	}
	for _, tt := range tests {
		got, err := httpBase(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("httpBase(%q) = %q, %v", tt.in, got, err)
		}
	}
}
