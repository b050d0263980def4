package capability

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// Camera reports "camera" when a video capture device exists.
type Camera struct {
	Env Env
}

func (Camera) Name() string { return "camera" }

func (c Camera) Detect(context.Context) protocol.Capabilities {
	if c.Env.GOOS == "darwin" {
		// macOS exposes no device nodes; imagesnap is the usual capture tool.
		if c.Env.Has("imagesnap") {
			return protocol.Capabilities{"camera": true}
		}
		return nil
	}
	devices, err := c.Env.Glob("/dev/video*")
	if err != nil || len(devices) == 0 {
		return nil
	}
	return protocol.Capabilities{"camera": true}
}

// GPU reports "gpu" with the first NVIDIA device's name.
type GPU struct {
	Env Env
}

func (GPU) Name() string { return "gpu" }

func (g GPU) Detect(ctx context.Context) protocol.Capabilities {
	if !g.Env.Has("nvidia-smi") {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := g.Env.Output(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	if err != nil {
		return nil
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			return protocol.Capabilities{"gpu": name}
		}
	}
	return nil
}

// ModelRuntime reports "ollama" when the local model runtime answers on URL.
type ModelRuntime struct {
	URL    string
	Client *http.Client
}

func (ModelRuntime) Name() string { return "ollama" }

func (m ModelRuntime) Detect(ctx context.Context) protocol.Capabilities {
	if m.URL == "" {
		return nil
	}
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(m.URL, "/")+"/api/tags", nil)
	if err != nil {
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	return protocol.Capabilities{protocol.ActionOllama: true}
}
