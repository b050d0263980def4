package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// fakeEnv builds an Env with the given tools on PATH and environment.
func fakeEnv(goos string, tools []string, env map[string]string) Env {
	onPath := make(map[string]bool, len(tools))
	for _, t := range tools {
		onPath[t] = true
	}
	return Env{
		GOOS: goos,
		LookPath: func(file string) (string, error) {
			if onPath[file] {
				return "/usr/bin/" + file, nil
			}
			return "", errors.New("not found")
		},
		Getenv: func(key string) string { return env[key] },
		Glob:   func(string) ([]string, error) { return nil, nil },
		Output: func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("no command")
		},
	}
}

func TestCoreAlwaysAdvertised(t *testing.T) {
	caps := Detect(context.Background(), Core{})
	for _, want := range []string{"ping", "shell", "info", "lua"} {
		if !caps.Has(want) {
			t.Errorf("core capabilities missing %q: %v", want, caps.Keys())
		}
	}
}

func TestGUI(t *testing.T) {
	tests := []struct {
		name       string
		env        Env
		wantKeys   string
		screenshot string
		input      string
	}{
		{
			name:     "headless linux",
			env:      fakeEnv("linux", []string{"xdotool", "scrot"}, nil),
			wantKeys: "[]",
		},
		{
			name:       "x11 with tools",
			env:        fakeEnv("linux", []string{"xdotool", "scrot"}, map[string]string{"DISPLAY": ":0"}),
			wantKeys:   "[click hotkey screenshot type]",
			screenshot: "scrot",
			input:      "xdotool",
		},
		{
			name:       "wayland screenshot only",
			env:        fakeEnv("linux", []string{"grim"}, map[string]string{"WAYLAND_DISPLAY": "wayland-0"}),
			wantKeys:   "[screenshot]",
			screenshot: "grim",
		},
		{
			name:       "darwin",
			env:        fakeEnv("darwin", []string{"screencapture"}, nil),
			wantKeys:   "[screenshot]",
			screenshot: "screencapture",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GUI{Env: tt.env}
			caps := g.Detect(context.Background())
			if got := fmt.Sprint(caps.Keys()); got != tt.wantKeys {
				t.Errorf("keys = %s, want %s", got, tt.wantKeys)
			}
			s, in := g.Tools()
			if s != tt.screenshot || in != tt.input {
				t.Errorf("Tools() = (%q, %q), want (%q, %q)", s, in, tt.screenshot, tt.input)
			}
		})
	}
}

func TestCamera(t *testing.T) {
	env := fakeEnv("linux", nil, nil)
	if caps := (Camera{Env: env}).Detect(context.Background()); caps.Has("camera") {
		t.Error("camera reported without devices")
	}
	env.Glob = func(string) ([]string, error) { return []string{"/dev/video0"}, nil }
	if caps := (Camera{Env: env}).Detect(context.Background()); !caps.Has("camera") {
		t.Error("camera not reported with /dev/video0")
	}
}

func TestGPUName(t *testing.T) {
	env := fakeEnv("linux", []string{"nvidia-smi"}, nil)
	env.Output = func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "nvidia-smi" {
			t.Fatalf("unexpected command %q", name)
		}
		return []byte("NVIDIA GeForce RTX 3060\nNVIDIA GeForce RTX 3060\n"), nil
	}
	caps := (GPU{Env: env}).Detect(context.Background())
	if caps["gpu"] != "NVIDIA GeForce RTX 3060" {
		t.Fatalf("gpu = %v", caps["gpu"])
	}
	if !caps.Has("gpu") {
		t.Error("gpu name should be truthy")
	}
}

func TestGPUAbsent(t *testing.T) {
	caps := (GPU{Env: fakeEnv("linux", nil, nil)}).Detect(context.Background())
	if len(caps) != 0 {
		t.Fatalf("caps = %v, want none", caps)
	}
}

func TestModelRuntime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer srv.Close()

	caps := (ModelRuntime{URL: srv.URL}).Detect(context.Background())
	if !caps.Has(protocol.ActionOllama) {
		t.Fatal("ollama should be reported when the runtime answers")
	}

	srv.Close()
	caps = (ModelRuntime{URL: srv.URL}).Detect(context.Background())
	if caps.Has(protocol.ActionOllama) {
		t.Fatal("ollama reported for a closed runtime")
	}
}

func TestDetectMergeOrder(t *testing.T) {
	caps := Detect(context.Background(),
		Core{},
		Static{Caps: protocol.Capabilities{"plc": true, "shell": false}},
	)
	if !caps.Has("plc") {
		t.Error("static capability missing")
	}
	if caps.Has("shell") {
		t.Error("later provider should override shell")
	}
	if !caps.Has("ping") {
		t.Error("core ping lost in merge")
	}
}
