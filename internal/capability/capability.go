// Package capability inspects the local machine for what a node can do.
//
// Each Provider inspects one area (GUI automation tools, cameras, a local
// model runtime, GPUs) and contributes keys to the capability map the node
// sends when it registers. Probing never fails: a provider that cannot find
// anything contributes nothing.
package capability

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// Provider contributes capability entries for one area of the machine.
type Provider interface {
	Name() string
	Detect(ctx context.Context) protocol.Capabilities
}

// Env is the view of the host that providers inspect through. Tests replace
// its functions to simulate other machines.
type Env struct {
	GOOS     string
	LookPath func(file string) (string, error)
	Getenv   func(key string) string
	Glob     func(pattern string) ([]string, error)
	Output   func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// HostEnv returns an Env backed by the running machine.
func HostEnv() Env {
	return Env{
		GOOS:     runtime.GOOS,
		LookPath: exec.LookPath,
		Getenv:   os.Getenv,
		Glob:     filepath.Glob,
		Output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Has reports whether file is on PATH.
func (e Env) Has(file string) bool {
	_, err := e.LookPath(file)
	return err == nil
}

// First returns the first of files found on PATH.
func (e Env) First(files ...string) (string, bool) {
	for _, f := range files {
		if e.Has(f) {
			return f, true
		}
	}
	return "", false
}

// Detect runs every provider in order and merges their entries. Later
// providers override earlier ones on key collisions.
func Detect(ctx context.Context, providers ...Provider) protocol.Capabilities {
	caps := protocol.Capabilities{}
	for _, p := range providers {
		caps.Merge(p.Detect(ctx))
	}
	return caps
}

// Core advertises the actions every node agent implements.
type Core struct{}

func (Core) Name() string { return "core" }

func (Core) Detect(context.Context) protocol.Capabilities {
	return protocol.Capabilities{
		protocol.ActionPing:  true,
		protocol.ActionShell: true,
		protocol.ActionInfo:  true,
		protocol.ActionLua:   true,
	}
}

// Static advertises capabilities declared in the node's config, for things
// no detector can discover (a PLC on the local network, a label printer).
type Static struct {
	Caps protocol.Capabilities
}

func (Static) Name() string { return "static" }

func (s Static) Detect(context.Context) protocol.Capabilities {
	out := make(protocol.Capabilities, len(s.Caps))
	out.Merge(s.Caps)
	return out
}
