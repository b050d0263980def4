package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestCapabilitiesHas(t *testing.T) {
	caps := Capabilities{
		"ping":       true,
		"screenshot": false,
		"gpu":        "NVIDIA GeForce RTX 3060",
		"empty":      "",
		"count":      float64(0),
		"nothing":    nil,
	}
	tests := []struct {
		name string
		want bool
	}{
		{"ping", true},
		{"screenshot", false},
		{"gpu", true},
		{"empty", false},
		{"count", false},
		{"nothing", false},
		{"missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := caps.Has(tt.name); got != tt.want {
				t.Errorf("Has(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestCapabilitiesKeysSorted(t *testing.T) {
	caps := Capabilities{"shell": true, "info": true, "ping": true}
	keys := caps.Keys()
	want := []string{"info", "ping", "shell"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
}

func TestIsRecognizedAction(t *testing.T) {
	for _, name := range []string{"ping", "info", "shell", "screenshot", "click", "type", "hotkey", "ollama", "lua"} {
		if !IsRecognizedAction(name) {
			t.Errorf("%s should be recognized", name)
		}
	}
	if IsRecognizedAction("reboot") {
		t.Error("reboot should not be recognized")
	}
}

func TestActionParams(t *testing.T) {
	var a Action
	if err := json.Unmarshal([]byte(`{"action":"hotkey","keys":["ctrl","c"],"x":12,"frac":1.5,"timeout":3}`), &a); err != nil {
		t.Fatal(err)
	}
	if a.Name() != "hotkey" {
		t.Errorf("Name() = %q", a.Name())
	}
	keys, err := a.Strings("keys")
	if err != nil || len(keys) != 2 || keys[0] != "ctrl" {
		t.Errorf("Strings(keys) = %v, %v", keys, err)
	}
	if x, err := a.Int("x"); err != nil || x != 12 {
		t.Errorf("Int(x) = %d, %v", x, err)
	}
	if _, err := a.Int("frac"); err == nil {
		t.Error("expected error for non-integer")
	}
	if _, err := a.String("missing"); err == nil {
		t.Error("expected error for missing field")
	}
	if got := a.Seconds("timeout", 30); got != 3 {
		t.Errorf("Seconds(timeout) = %v, want 3", got)
	}
	if got := a.Seconds("absent", 30); got != 30 {
		t.Errorf("Seconds(absent) = %v, want 30", got)
	}
}

func TestNewActionDoesNotOverrideName(t *testing.T) {
	a := NewAction(ActionPing, map[string]any{"action": "shell", "extra": 1})
	if a.Name() != ActionPing {
		t.Fatalf("Name() = %q, want ping", a.Name())
	}
	if a["extra"] != 1 {
		t.Fatalf("extra param lost")
	}
}

func TestTargetNotFoundListsEmptyNodes(t *testing.T) {
	e := &Error{Kind: KindTargetNotFound, Message: "node 'anything' not found", Target: "anything"}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	nodes, ok := m["available_nodes"].([]any)
	if !ok {
		t.Fatalf("available_nodes missing or not a list: %s", data)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected empty list, got %v", nodes)
	}
	if m["kind"] != string(KindTargetNotFound) {
		t.Fatalf("kind = %v", m["kind"])
	}
}

func TestDecodeResult(t *testing.T) {
	ok, err := DecodeResult([]byte(`{"stdout":"hi\n","stderr":"","code":0}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ok.OK() {
		t.Fatalf("expected success, got %v", ok.Err)
	}

	fail, err := DecodeResult([]byte(`{"error":"node 'x' does not support 'screenshot'","kind":"capability_unsupported","capabilities":["ping","shell"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if fail.OK() {
		t.Fatal("expected failure")
	}
	if !errors.Is(fail.Err, ErrCapabilityUnsupported) {
		t.Fatalf("errors.Is capability_unsupported failed: %v", fail.Err)
	}
	if len(fail.Err.Capabilities) != 2 {
		t.Fatalf("capabilities = %v", fail.Err.Capabilities)
	}

	// Untyped errors from older nodes still classify as failures.
	legacy, err := DecodeResult([]byte(`{"error":"boom"}`))
	if err != nil {
		t.Fatal(err)
	}
	if legacy.OK() || legacy.Err.Message != "boom" || legacy.Err.Kind != "" {
		t.Fatalf("legacy error = %+v", legacy.Err)
	}

	if _, err := DecodeResult([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestErrorIsMatchesKindOnly(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindCommandTimeout, Message: "no response"})
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatal("expected errors.Is to match command_timeout")
	}
	if errors.Is(err, ErrTargetNotFound) {
		t.Fatal("unexpected match on target_not_found")
	}
}
