package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/internal/node"
	"github.com/jarvis-automation/jarvis/internal/server"
	"github.com/jarvis-automation/jarvis/pkg/client"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

func startDaemon(t *testing.T) *server.Daemon {
	t.Helper()
	cfg := server.Config{
		Server: server.ServerConfig{Listen: "127.0.0.1:0"},
		Relay:  server.RelayConfig{CommandTimeout: 5 * time.Second},
		NATS:   server.NATSConfig{Embedded: true},
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	d := server.NewDaemon(cfg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()

	select {
	case <-d.Ready():
	case err := <-errCh:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	t.Cleanup(func() {
		d.Stop()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("daemon error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("daemon did not shut down in time")
		}
	})
	return d
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestEndToEnd(t *testing.T) {
	d := startDaemon(t)
	base := "http://" + d.Addr()

	var status protocol.StatusResponse
	getJSON(t, base+"/api/v1/status", &status)
	if status.Status != "ok" {
		t.Fatalf("expected status ok, got %s", status.Status)
	}
	if !status.NATSRunning {
		t.Fatal("expected embedded NATS to be running")
	}
	if status.NodeCount != 0 {
		t.Fatalf("expected 0 nodes, got %d", status.NodeCount)
	}

	// Watch lifecycle events over the embedded bus.
	nc, err := nats.Connect(d.NATSClientURL(), d.NATSConnectOpts()...)
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()
	events := make(chan protocol.Event, 16)
	sub, err := nc.Subscribe(protocol.SubjectEventsAll, func(msg *nats.Msg) {
		var ev protocol.Event
		if json.Unmarshal(msg.Data, &ev) == nil {
			events <- ev
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	wsURL := "ws://" + d.Addr() + "/ws"
	ctx, cancel := context.WithCancel(context.Background())
	agent := node.New(ctx, node.Config{
		Relay: node.RelayConfig{URL: wsURL},
		Node:  node.NodeConfig{Name: "desk", ReconnectInterval: 50 * time.Millisecond},
	}, zerolog.Nop())
	agentDone := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(agentDone)
	}()
	stopAgent := func() {
		cancel()
		<-agentDone
	}
	defer stopAgent()

	waitEvent(t, events, protocol.EventNodeRegistered)

	// The status API replays the same events.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var recent struct {
			Events []protocol.Event `json:"events"`
		}
		getJSON(t, base+"/api/v1/events/recent", &recent)
		if len(recent.Events) > 0 && recent.Events[0].Type == protocol.EventNodeRegistered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recent events = %+v", recent.Events)
		}
		time.Sleep(50 * time.Millisecond)
	}

	var nodes protocol.ListNodesResponse
	getJSON(t, base+"/api/v1/nodes", &nodes)
	if len(nodes.Nodes) != 1 || nodes.Nodes[0] != "desk" {
		t.Fatalf("expected [desk], got %v", nodes.Nodes)
	}

	c := client.New(wsURL)
	pong, err := c.Ping(context.Background(), "desk")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !pong.Pong || pong.Node != "desk" {
		t.Fatalf("unexpected ping result %+v", pong)
	}
	ev := waitEvent(t, events, protocol.EventCommandCompleted)
	if ev.Payload["target"] != "desk" || ev.Payload["action"] != "ping" {
		t.Fatalf("unexpected command event payload: %v", ev.Payload)
	}

	// The relay also accepts connections on the root path.
	found, err := client.New("ws://"+d.Addr()).FindByCapability(context.Background(), "shell")
	if err != nil {
		t.Fatalf("find_by_capability: %v", err)
	}
	if len(found) != 1 || found[0] != "desk" {
		t.Fatalf("expected [desk], got %v", found)
	}

	stopAgent()
	waitEvent(t, events, protocol.EventNodeDisconnected)

	getJSON(t, base+"/api/v1/status", &status)
	if status.NodeCount != 0 {
		t.Fatalf("expected 0 nodes after disconnect, got %d", status.NodeCount)
	}
}

func waitEvent(t *testing.T, events <-chan protocol.Event, eventType string) protocol.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", eventType)
		}
	}
}

func TestListenError(t *testing.T) {
	cfg := server.Config{
		Server: server.ServerConfig{Listen: "256.0.0.1:bad"},
		NATS:   server.NATSConfig{Embedded: true},
	}
	d := server.NewDaemon(cfg, zerolog.Nop())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected listen error")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jarvis.toml")
	body := `
[server]
listen = "127.0.0.1:9000"

[relay]
command_timeout = "45s"

[nats]
embedded = false
url = "nats://bus:4222"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JARVIS_NATS_TOKEN", "s3cret")

	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Relay.CommandTimeout != 45*time.Second {
		t.Errorf("command_timeout = %s", cfg.Relay.CommandTimeout)
	}
	if cfg.Relay.MaxMessageSize != 64<<20 {
		t.Errorf("max_message_size = %d", cfg.Relay.MaxMessageSize)
	}
	if cfg.NATS.Embedded || cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.NATS.Token != "s3cret" {
		t.Errorf("token = %q", cfg.NATS.Token)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := server.LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := server.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Listen != "0.0.0.0:8765" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Relay.CommandTimeout != 30*time.Second {
		t.Errorf("command_timeout = %s", cfg.Relay.CommandTimeout)
	}
	if !cfg.NATS.Embedded {
		t.Error("embedded NATS should default on")
	}
}
