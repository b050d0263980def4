package protocol

import "time"

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status      string    `json:"status"`
	Uptime      string    `json:"uptime"`
	NATSRunning bool      `json:"nats_running"`
	StartedAt   time.Time `json:"started_at"`
	NodeCount   int       `json:"node_count"`
}

// ShellResult is the success payload of a shell action.
type ShellResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code"`
}

// ScreenshotResult is the success payload of a screenshot action.
type ScreenshotResult struct {
	Image  string `json:"image"` // base64
	Format string `json:"format"`
}

// PingResult is the success payload of a ping action.
type PingResult struct {
	Pong bool   `json:"pong"`
	Node string `json:"node"`
	Time string `json:"time"`
}

// InfoResult is the success payload of an info action.
type InfoResult struct {
	Node         string       `json:"node"`
	Hostname     string       `json:"hostname"`
	Platform     string       `json:"platform"`
	OS           string       `json:"os"`
	Arch         string       `json:"arch"`
	CPUs         int          `json:"cpus"`
	MemoryTotal  uint64       `json:"memory_total"`
	Uptime       uint64       `json:"uptime"`
	Capabilities Capabilities `json:"capabilities"`
}

// OllamaResult is the success payload of an ollama action.
type OllamaResult struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}
