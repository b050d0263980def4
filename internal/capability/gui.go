package capability

import (
	"context"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// Screenshot tools in order of preference, per platform.
var (
	linuxScreenshotTools = []string{"grim", "scrot", "import"}
	linuxInputTools      = []string{"xdotool"}
)

// GUI detects screen capture and input injection. On Linux it needs a
// graphical session and one of the known command-line tools.
type GUI struct {
	Env Env
}

func (GUI) Name() string { return "gui" }

func (g GUI) Detect(context.Context) protocol.Capabilities {
	caps := protocol.Capabilities{}
	screenshot, input := g.Tools()
	if screenshot != "" {
		caps[protocol.ActionScreenshot] = true
	}
	if input != "" {
		caps[protocol.ActionClick] = true
		caps[protocol.ActionType] = true
		caps[protocol.ActionHotkey] = true
	}
	return caps
}

// Tools returns the screenshot and input tools found, or "" for each that
// is unavailable.
func (g GUI) Tools() (screenshot, input string) {
	switch g.Env.GOOS {
	case "darwin":
		if g.Env.Has("screencapture") {
			screenshot = "screencapture"
		}
		if g.Env.Has("cliclick") {
			input = "cliclick"
		}
	case "linux", "freebsd", "openbsd":
		if g.Env.Getenv("DISPLAY") == "" && g.Env.Getenv("WAYLAND_DISPLAY") == "" {
			return "", ""
		}
		screenshot, _ = g.Env.First(linuxScreenshotTools...)
		input, _ = g.Env.First(linuxInputTools...)
	}
	return screenshot, input
}
