package node

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jarvis-automation/jarvis/internal/capability"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// cliclick names for keys that cannot be typed as text.
var cliclickSpecialKeys = map[string]bool{
	"arrow-down": true, "arrow-left": true, "arrow-right": true, "arrow-up": true,
	"delete": true, "end": true, "enter": true, "esc": true, "fwd-delete": true,
	"home": true, "page-down": true, "page-up": true, "return": true, "space": true, "tab": true,
}

var cliclickModifiers = map[string]string{
	"alt": "alt", "option": "alt", "cmd": "cmd", "command": "cmd", "super": "cmd",
	"ctrl": "ctrl", "control": "ctrl", "fn": "fn", "shift": "shift",
}

func (a *Agent) guiTools() (screenshot, input string) {
	return capability.GUI{Env: a.env}.Tools()
}

// run executes a GUI tool and folds its stderr into the error.
func (a *Agent) run(ctx context.Context, name string, args ...string) error {
	_, err := a.env.Output(ctx, name, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return fmt.Errorf("%s: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (a *Agent) screenshot(ctx context.Context, _ protocol.Action) (any, error) {
	tool, _ := a.guiTools()
	if tool == "" {
		return nil, errors.New("no screenshot tool available (needs a display and grim, scrot, import or screencapture)")
	}

	dir, err := os.MkdirTemp("", "jarvis-screenshot-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "screen.png")

	var args []string
	switch tool {
	case "import":
		args = []string{"-window", "root", path}
	case "screencapture":
		args = []string{"-x", "-t", "png", path}
	default: // grim, scrot
		args = []string{path}
	}
	if err := a.run(ctx, tool, args...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	return protocol.ScreenshotResult{
		Image:  base64.StdEncoding.EncodeToString(data),
		Format: "png",
	}, nil
}

func (a *Agent) inputTool() (string, error) {
	_, tool := a.guiTools()
	if tool == "" {
		return "", errors.New("no input tool available (needs a display and xdotool or cliclick)")
	}
	return tool, nil
}

func (a *Agent) click(ctx context.Context, action protocol.Action) (any, error) {
	x, err := action.Int("x")
	if err != nil {
		return nil, err
	}
	y, err := action.Int("y")
	if err != nil {
		return nil, err
	}
	button := action.StringOr("button", "left")
	tool, err := a.inputTool()
	if err != nil {
		return nil, err
	}

	var args []string
	switch tool {
	case "cliclick":
		verb := map[string]string{"left": "c", "right": "rc", "double": "dc"}[button]
		if verb == "" {
			return nil, fmt.Errorf("unsupported button: %s", button)
		}
		pos := fmt.Sprintf("%d,%d", x, y)
		args = []string{"m:" + pos, verb + ":" + pos}
	default:
		b := map[string]string{"left": "1", "middle": "2", "right": "3"}[button]
		if b == "" {
			return nil, fmt.Errorf("unsupported button: %s", button)
		}
		args = []string{"mousemove", strconv.Itoa(x), strconv.Itoa(y), "click", b}
	}
	if err := a.run(ctx, tool, args...); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "x": x, "y": y, "button": button}, nil
}

func (a *Agent) typeText(ctx context.Context, action protocol.Action) (any, error) {
	text, err := action.String("text")
	if err != nil {
		return nil, err
	}
	tool, err := a.inputTool()
	if err != nil {
		return nil, err
	}

	args := []string{"type", "--delay", "12", "--", text}
	if tool == "cliclick" {
		args = []string{"t:" + text}
	}
	if err := a.run(ctx, tool, args...); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "chars": len([]rune(text))}, nil
}

// hotkey presses keys together, modifiers first, e.g. ["ctrl", "shift", "t"].
func (a *Agent) hotkey(ctx context.Context, action protocol.Action) (any, error) {
	keys, err := action.Strings("keys")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.New("keys must not be empty")
	}
	tool, err := a.inputTool()
	if err != nil {
		return nil, err
	}

	var args []string
	switch tool {
	case "cliclick":
		args, err = cliclickHotkey(keys)
		if err != nil {
			return nil, err
		}
	default:
		args = []string{"key", "--", strings.Join(keys, "+")}
	}
	if err := a.run(ctx, tool, args...); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "keys": keys}, nil
}

func cliclickHotkey(keys []string) ([]string, error) {
	mods := make([]string, 0, len(keys)-1)
	for _, k := range keys[:len(keys)-1] {
		m, ok := cliclickModifiers[strings.ToLower(k)]
		if !ok {
			return nil, fmt.Errorf("unsupported modifier: %s", k)
		}
		mods = append(mods, m)
	}
	last := strings.ToLower(keys[len(keys)-1])

	var args []string
	if len(mods) > 0 {
		args = append(args, "kd:"+strings.Join(mods, ","))
	}
	if cliclickSpecialKeys[last] {
		args = append(args, "kp:"+last)
	} else {
		args = append(args, "t:"+keys[len(keys)-1])
	}
	if len(mods) > 0 {
		args = append(args, "ku:"+strings.Join(mods, ","))
	}
	return args, nil
}
