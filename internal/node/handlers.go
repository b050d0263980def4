package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

func (a *Agent) ping(context.Context, protocol.Action) (any, error) {
	return protocol.PingResult{
		Pong: true,
		Node: a.config().Node.Name,
		Time: time.Now().Format(time.RFC3339),
	}, nil
}

func (a *Agent) info(ctx context.Context, _ protocol.Action) (any, error) {
	res := protocol.InfoResult{
		Node:         a.config().Node.Name,
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		Capabilities: a.detect(ctx),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		res.Hostname = hi.Hostname
		res.Platform = strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
		res.Uptime = hi.Uptime
	} else {
		a.logger.Debug().Err(err).Msg("host info unavailable")
		res.Hostname, _ = os.Hostname()
		res.Platform = runtime.GOOS
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		res.CPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		res.MemoryTotal = vm.Total
	}
	return res, nil
}

func (a *Agent) shell(ctx context.Context, action protocol.Action) (any, error) {
	command, err := action.String("command")
	if err != nil {
		return nil, err
	}
	timeout := seconds(action.Seconds("timeout", a.config().Shell.Timeout.Seconds()))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(ctx, command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not keep Run blocked past the kill.
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		code = exitErr.ExitCode()
	}
	return protocol.ShellResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Code:   code,
	}, nil
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// ollama runs a non-streaming generation against the local model runtime.
func (a *Agent) ollama(ctx context.Context, action protocol.Action) (any, error) {
	model, err := action.String("model")
	if err != nil {
		return nil, err
	}
	prompt, err := action.String("prompt")
	if err != nil {
		return nil, err
	}
	cfg := a.config().Ollama
	ctx, cancel := context.WithTimeout(ctx, seconds(action.Seconds("timeout", cfg.Timeout.Seconds())))
	defer cancel()

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.URL, "/")+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if gen.Error != "" {
			return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, gen.Error)
		}
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return protocol.OllamaResult{Model: model, Response: gen.Response}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
