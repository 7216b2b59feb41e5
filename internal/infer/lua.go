package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

const (
	luaInferFunc = "infer"
	// maxLuaDepth bounds how deeply nested a returned table may be.
	maxLuaDepth  = 32
)

// Lua infers arguments by calling the global infer(tool, task, schema) of a
// user script. The script is compiled once; each call runs in a fresh
// interpreter, so a Lua inferrer is safe for concurrent use.
type Lua struct {
	path     string
	proto    *lua.FunctionProto
	fallback Inferrer
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewLua compiles the script at path and checks that it defines infer.
// fallback answers whenever the script errors, runs past timeout or returns
// something other than a table of named values. A timeout <= 0 leaves calls
// bounded only by the caller's context.
func NewLua(path string, fallback Inferrer, timeout time.Duration, logger zerolog.Logger) (*Lua, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer func() { _ = f.Close() }()

	chunk, err := parse.Parse(f, absPath)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	proto, err := lua.Compile(chunk, absPath)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}

	l := &Lua{path: absPath, proto: proto, fallback: fallback, timeout: timeout, logger: logger}
	L, err := l.load(context.Background())
	if err != nil {
		return nil, err
	}
	L.Close()
	return l, nil
}

func (l *Lua) load(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState()
	L.SetContext(ctx)
	L.PreloadModule("env", envModuleLoader)

	L.Push(L.NewFunctionFromProto(l.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("load script: %w", err)
	}
	fn := L.GetGlobal(luaInferFunc)
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("script must define global function infer(tool, task, schema), got %s", fn.Type())
	}
	return L, nil
}

func (l *Lua) Infer(ctx context.Context, tool string, schema *protocol.ToolSchema, task string) map[string]any {
	args, err := l.call(ctx, tool, schema, task)
	if err != nil {
		l.logger.Warn().Err(err).Str("tool", tool).Str("script", l.path).Msg("lua inference failed, using fallback")
		return l.fallback.Infer(ctx, tool, schema, task)
	}
	return args
}

func (l *Lua) call(ctx context.Context, tool string, schema *protocol.ToolSchema, task string) (map[string]any, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	L, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	defer L.Close()

	L.Push(L.GetGlobal(luaInferFunc))
	L.Push(lua.LString(tool))
	L.Push(lua.LString(task))
	L.Push(schemaToLua(L, schema))
	if err := L.PCall(3, 1, nil); err != nil {
		return nil, fmt.Errorf("infer(): %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	if _, ok := ret.(*lua.LTable); !ok {
		return nil, fmt.Errorf("infer() must return a table, got %s", ret.Type())
	}
	v, err := fromLua(ret, make(map[*lua.LTable]bool), 0)
	if err != nil {
		return nil, fmt.Errorf("infer() result: %w", err)
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("infer() returned a list, want a table of named arguments")
	}
	return args, nil
}

// schemaToLua exposes the schema as {name=..., description=..., parameters=...}
// or nil when there is none.
func schemaToLua(L *lua.LState, schema *protocol.ToolSchema) lua.LValue {
	if schema == nil {
		return lua.LNil
	}
	t := L.NewTable()
	t.RawSetString("name", lua.LString(schema.Name))
	t.RawSetString("description", lua.LString(schema.Description))
	if len(schema.Parameters) > 0 {
		var params any
		if err := json.Unmarshal(schema.Parameters, &params); err == nil {
			t.RawSetString("parameters", toLua(L, params))
		}
	}
	return t
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value to its JSON-compatible Go form. A table whose
// keys are exactly 1..n becomes a slice; any other table becomes a map. An
// empty table is an empty map. Tables that contain themselves, directly or
// through a descendant, or nest deeper than maxLuaDepth are rejected.
func fromLua(v lua.LValue, active map[*lua.LTable]bool, depth int) (any, error) {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		return float64(x), nil
	case lua.LString:
		return string(x), nil
	case *lua.LTable:
		if active[x] {
			return nil, fmt.Errorf("table contains itself")
		}
		if depth >= maxLuaDepth {
			return nil, fmt.Errorf("tables nested deeper than %d", maxLuaDepth)
		}
		active[x] = true
		defer delete(active, x)

		n := x.MaxN()
		count := 0
		x.ForEach(func(_, _ lua.LValue) { count++ })
		if n > 0 && n == count {
			list := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				e, err := fromLua(x.RawGetInt(i), active, depth+1)
				if err != nil {
					return nil, err
				}
				list = append(list, e)
			}
			return list, nil
		}
		m := make(map[string]any, count)
		var err error
		x.ForEach(func(k, e lua.LValue) {
			if err != nil {
				return
			}
			m[k.String()], err = fromLua(e, active, depth+1)
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return v.String(), nil
	}
}

// envModuleLoader provides require("env") with getenv and now.
func envModuleLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "getenv", L.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LString(os.Getenv(ls.CheckString(1))))
		return 1
	}))
	L.SetField(mod, "now", L.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	L.Push(mod)
	return 1
}
