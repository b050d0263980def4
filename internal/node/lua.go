package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// LuaResult is the success payload of a lua action.
type LuaResult struct {
	Result any      `json:"result"`
	Output []string `json:"output,omitempty"`
}

// lua runs a script in a sandboxed state. The action's parameters are
// visible to the script as the global table "params"; the script's first
// return value becomes the result.
func (a *Agent) lua(ctx context.Context, action protocol.Action) (any, error) {
	script, err := action.String("script")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, seconds(action.Seconds("timeout", a.config().Lua.Timeout.Seconds())))
	defer cancel()

	var output []string
	L := newSandbox(func(line string) { output = append(output, line) })
	defer L.Close()
	L.SetContext(ctx)

	params := make(map[string]any, len(action))
	for k, v := range action {
		switch k {
		case protocol.FieldAction, protocol.FieldRequestID, protocol.FieldSignature, "script":
			continue
		}
		params[k] = v
	}
	L.SetGlobal("params", goToLua(L, params))

	top := L.GetTop()
	if err := L.DoString(script); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("script timed out")
		}
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("script error: %s", apiErr.Object.String())
		}
		return nil, fmt.Errorf("script error: %w", err)
	}

	var result any
	if L.GetTop() > top {
		result = luaToGo(L.Get(top + 1))
	}
	return LuaResult{Result: result, Output: output}, nil
}

// newSandbox creates a state with only the base, table, string and math
// libraries. print is routed to printFn.
func newSandbox(printFn func(string)) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.Get(i + 1).String()
		}
		printFn(strings.Join(parts, "\t"))
		return 0
	}))
	return L
}

func goToLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(float64(v))
	case bool:
		return lua.LBool(v)
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range v {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua value for JSON encoding. Tables whose keys are
// exactly 1..n become lists; other tables become objects keyed by their
// string keys.
func luaToGo(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		n := v.MaxN()
		count := 0
		v.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && count == n {
			list := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				list = append(list, luaToGo(v.RawGetInt(i)))
			}
			return list
		}
		obj := make(map[string]any, count)
		v.ForEach(func(k, item lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				obj[string(ks)] = luaToGo(item)
			}
		})
		return obj
	default:
		return nil
	}
}
