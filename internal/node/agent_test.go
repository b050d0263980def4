package node

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jarvis-automation/jarvis/internal/registry"
	"github.com/jarvis-automation/jarvis/internal/relay"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

func startRelay(t *testing.T) (*relay.Relay, string) {
	t.Helper()
	r := relay.New(registry.New(zerolog.Nop()), relay.Config{CommandTimeout: 5 * time.Second}, nil, zerolog.Nop())
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return r, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// runAgent starts an agent against url and stops it when the test ends.
func runAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	a := newTestAgent(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("agent did not stop")
		}
	})
	return a
}

func TestAgentServesThroughRelay(t *testing.T) {
	r, url := startRelay(t)
	runAgent(t, Config{Relay: RelayConfig{URL: url}, Node: NodeConfig{Name: "edge-1"}})

	waitFor(t, "registration", func() bool {
		_, ok := r.Registry().Lookup("edge-1")
		return ok
	})

	entry, _ := r.Registry().Lookup("edge-1")
	for _, key := range []string{"ping", "shell", "info", "lua"} {
		if !entry.Capabilities.Has(key) {
			t.Errorf("registered capabilities missing %s: %v", key, entry.Capabilities.Keys())
		}
	}

	raw, perr := r.Dispatch(context.Background(), "edge-1", protocol.NewAction(protocol.ActionPing, nil))
	if perr != nil {
		t.Fatalf("Dispatch: %v", perr)
	}
	var pong protocol.PingResult
	if err := json.Unmarshal(raw, &pong); err != nil || !pong.Pong || pong.Node != "edge-1" {
		t.Fatalf("ping response = %s (%v)", raw, err)
	}

	// Several commands in a row on one connection.
	for i := 0; i < 3; i++ {
		raw, perr := r.Dispatch(context.Background(), "edge-1",
			protocol.NewAction(protocol.ActionLua, map[string]any{"script": "return params.n * 2", "n": i}))
		if perr != nil {
			t.Fatalf("Dispatch lua #%d: %v", i, perr)
		}
		var res LuaResult
		if err := json.Unmarshal(raw, &res); err != nil || res.Result != float64(i*2) {
			t.Fatalf("lua #%d = %s", i, raw)
		}
	}
}

func TestAgentReconnects(t *testing.T) {
	r, url := startRelay(t)
	runAgent(t, Config{
		Relay: RelayConfig{URL: url},
		Node:  NodeConfig{Name: "edge-2", ReconnectInterval: 50 * time.Millisecond},
	})

	var first *registry.Entry
	waitFor(t, "registration", func() bool {
		first, _ = r.Registry().Lookup("edge-2")
		return first != nil
	})

	r.Close()

	waitFor(t, "re-registration", func() bool {
		e, ok := r.Registry().Lookup("edge-2")
		return ok && e != first
	})
}

func TestAgentReconfigureReregisters(t *testing.T) {
	r, url := startRelay(t)
	cfg := Config{
		Relay: RelayConfig{URL: url},
		Node:  NodeConfig{Name: "edge-3", ReconnectInterval: time.Minute},
	}
	a := runAgent(t, cfg)

	waitFor(t, "registration", func() bool {
		_, ok := r.Registry().Lookup("edge-3")
		return ok
	})

	cfg.Capabilities = map[string]any{"plc": true}
	a.Reconfigure(context.Background(), cfg)

	// The long reconnect interval proves the re-registration skipped the wait.
	waitFor(t, "new capabilities", func() bool {
		e, ok := r.Registry().Lookup("edge-3")
		return ok && e.Capabilities.Has("plc")
	})
}

func TestRunStopsWhileRelayDown(t *testing.T) {
	a := newTestAgent(t, Config{
		Relay: RelayConfig{URL: "ws://127.0.0.1:1"},
		Node:  NodeConfig{Name: "edge-4", ReconnectInterval: time.Hour},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatchConfigTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jarvis-node.toml")
	if err := os.WriteFile(path, []byte("[node]\nname = \"edge-5\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	a := newTestAgent(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 4)
	if err := a.WatchConfig(ctx, path, func(context.Context) { reloaded <- struct{}{} }); err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}

	// Unrelated files in the directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0o600)
	select {
	case <-reloaded:
		t.Fatal("reload triggered by another file")
	case <-time.After(800 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("[node]\nname = \"edge-5\"\n[capabilities]\nplc = true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}
