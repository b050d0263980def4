package cmd

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// actionCmd builds a subcommand that sends one action to the node named by
// its first argument and prints the response.
func actionCmd(use, short string, args cobra.PositionalArgs, build func(args []string) (protocol.Action, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := build(args[1:])
			if err != nil {
				return err
			}
			return sendAndPrint(cmd.Context(), cmd.OutOrStdout(), args[0], action)
		},
	}
}

func newPingCmd() *cobra.Command {
	return actionCmd("ping <node>", "Check that a node answers", cobra.ExactArgs(1),
		func([]string) (protocol.Action, error) {
			return protocol.NewAction(protocol.ActionPing, nil), nil
		})
}

func newInfoCmd() *cobra.Command {
	return actionCmd("info <node>", "Show a node's host facts and capabilities", cobra.ExactArgs(1),
		func([]string) (protocol.Action, error) {
			return protocol.NewAction(protocol.ActionInfo, nil), nil
		})
}

func newShellCmd() *cobra.Command {
	var timeout time.Duration

	cmd := actionCmd("shell <node> <cmd...>", "Run a shell command on a node", cobra.MinimumNArgs(2),
		func(args []string) (protocol.Action, error) {
			params := map[string]any{"command": strings.Join(args, " ")}
			if timeout > 0 {
				params["timeout"] = timeout.Seconds()
			}
			return protocol.NewAction(protocol.ActionShell, params), nil
		})
	cmd.Flags().DurationVar(&timeout, "cmd-timeout", 0, "timeout for the command on the node (default: node setting)")
	return cmd
}

func newClickCmd() *cobra.Command {
	var button string

	cmd := actionCmd("click <node> <x> <y>", "Click at screen coordinates on a node", cobra.ExactArgs(3),
		func(args []string) (protocol.Action, error) {
			x, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("x: %w", err)
			}
			y, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("y: %w", err)
			}
			params := map[string]any{"x": x, "y": y}
			if button != "" {
				params["button"] = button
			}
			return protocol.NewAction(protocol.ActionClick, params), nil
		})
	cmd.Flags().StringVar(&button, "button", "", "mouse button: left, middle or right")
	return cmd
}

func newTypeCmd() *cobra.Command {
	return actionCmd("type <node> <text...>", "Type text on a node", cobra.MinimumNArgs(2),
		func(args []string) (protocol.Action, error) {
			return protocol.NewAction(protocol.ActionType, map[string]any{"text": strings.Join(args, " ")}), nil
		})
}

func newHotkeyCmd() *cobra.Command {
	return actionCmd("hotkey <node> <keys...>", "Press a key combination on a node, modifiers first", cobra.MinimumNArgs(2),
		func(args []string) (protocol.Action, error) {
			return protocol.NewAction(protocol.ActionHotkey, map[string]any{"keys": args}), nil
		})
}

func newOllamaCmd() *cobra.Command {
	return actionCmd("ollama <node> <model> <prompt...>", "Ask a node's local model runtime", cobra.MinimumNArgs(3),
		func(args []string) (protocol.Action, error) {
			return protocol.NewAction(protocol.ActionOllama, map[string]any{
				"model":  args[0],
				"prompt": strings.Join(args[1:], " "),
			}), nil
		})
}

func newLuaCmd() *cobra.Command {
	var params string

	cmd := actionCmd("lua <node> <script-file>", "Run a Lua script in a node's sandbox", cobra.ExactArgs(2),
		func(args []string) (protocol.Action, error) {
			script, err := os.ReadFile(args[0])
			if err != nil {
				return nil, fmt.Errorf("read script: %w", err)
			}
			p := map[string]any{}
			if params != "" {
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return nil, fmt.Errorf("parse --params: %w", err)
				}
			}
			p["script"] = string(script)
			return protocol.NewAction(protocol.ActionLua, p), nil
		})
	cmd.Flags().StringVar(&params, "params", "", "JSON object exposed to the script as params")
	return cmd
}

func newScreenshotCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "screenshot <node>",
		Short: "Capture a node's screen to a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := relayClient().SendCommand(cmd.Context(), args[0], protocol.NewAction(protocol.ActionScreenshot, nil))
			if err != nil {
				var perr *protocol.Error
				if raw != nil && errors.As(err, &perr) {
					return printJSON(cmd.OutOrStdout(), raw)
				}
				return err
			}
			var res protocol.ScreenshotResult
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("decode screenshot response: %w", err)
			}
			png, err := base64.StdEncoding.DecodeString(res.Image)
			if err != nil {
				return fmt.Errorf("decode screenshot: %w", err)
			}

			if output == "" {
				output = fmt.Sprintf("screenshot_%s_%s.png", args[0], time.Now().Format("20060102_150405"))
			}
			if err := os.WriteFile(output, png, 0o644); err != nil {
				return fmt.Errorf("write screenshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", output, len(png))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: screenshot_<node>_<time>.png)")
	return cmd
}
