package protocol

import (
	"fmt"
	"math"
)

// Action types understood by the stock node agent.
const (
	ActionPing       = "ping"
	ActionInfo       = "info"
	ActionShell      = "shell"
	ActionScreenshot = "screenshot"
	ActionClick      = "click"
	ActionType       = "type"
	ActionHotkey     = "hotkey"
	ActionOllama     = "ollama"
	ActionLua        = "lua"
)

// Reserved action fields.
const (
	FieldAction    = "action"
	FieldRequestID = "request_id"
	FieldSignature = "signature"
)

// recognizedActions are the action types subject to the relay's capability check.
// Anything else is forwarded untouched so nodes can grow new actions without
// a relay upgrade.
var recognizedActions = map[string]struct{}{
	ActionPing:       {},
	ActionInfo:       {},
	ActionShell:      {},
	ActionScreenshot: {},
	ActionClick:      {},
	ActionType:       {},
	ActionHotkey:     {},
	ActionOllama:     {},
	ActionLua:        {},
}

// IsRecognizedAction reports whether name is one of the standard action types.
func IsRecognizedAction(name string) bool {
	_, ok := recognizedActions[name]
	return ok
}

// Action is a node-bound command payload: an "action" key plus free-form parameters.
type Action map[string]any

// NewAction builds an Action of the given type. params may be nil.
func NewAction(name string, params map[string]any) Action {
	a := Action{FieldAction: name}
	for k, v := range params {
		if k == FieldAction {
			continue
		}
		a[k] = v
	}
	return a
}

// Name returns the action type, or "" when absent or not a string.
func (a Action) Name() string {
	s, _ := a[FieldAction].(string)
	return s
}

// RequestID returns the correlation id stamped by the relay, if any.
func (a Action) RequestID() string {
	s, _ := a[FieldRequestID].(string)
	return s
}

// Clone returns a shallow copy so the relay can stamp fields without
// mutating the caller's map.
func (a Action) Clone() Action {
	c := make(Action, len(a)+1)
	for k, v := range a {
		c[k] = v
	}
	return c
}

// String extracts a required string parameter.
func (a Action) String(key string) (string, error) {
	val, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing required field: %s", key)
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// StringOr extracts an optional string parameter.
func (a Action) StringOr(key, def string) string {
	if s, ok := a[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Int extracts a required integer parameter. JSON numbers arrive as float64.
func (a Action) Int(key string) (int, error) {
	val, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("missing required field: %s", key)
	}
	switch n := val.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

// Seconds extracts an optional positive number of seconds, falling back to def.
func (a Action) Seconds(key string, def float64) float64 {
	switch n := a[key].(type) {
	case float64:
		if n > 0 {
			return n
		}
	case int:
		if n > 0 {
			return float64(n)
		}
	}
	return def
}

// Strings extracts a required list of strings.
func (a Action) Strings(key string) ([]string, error) {
	val, ok := a[key]
	if !ok {
		return nil, fmt.Errorf("missing required field: %s", key)
	}
	switch list := val.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
}
