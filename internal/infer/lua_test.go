package infer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "infer.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0600))
	return path
}

var sentinel = Func(func(context.Context, string, *protocol.ToolSchema, string) map[string]any {
	return map[string]any{"fallback": true}
})

func TestLuaInfer(t *testing.T) {
	path := writeScript(t, `
function infer(tool, task, schema)
  if tool == "search" then
    local q = string.match(task, "for (.+)$")
    return { query = q, limit = 5, tags = { "a", "b" }, opts = { exact = true } }
  end
  if tool == "echo_schema" then
    return { name = schema.name, required = schema.parameters.required[1] }
  end
  if tool == "no_schema" then
    return { has_schema = schema ~= nil }
  end
  return {}
end
`)
	l, err := NewLua(path, sentinel, 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	got := l.Infer(ctx, "search", nil, "search for lua tables")
	assert.Equal(t, map[string]any{
		"query": "lua tables",
		"limit": float64(5),
		"tags":  []any{"a", "b"},
		"opts":  map[string]any{"exact": true},
	}, got)

	schema := &protocol.ToolSchema{Name: "echo_schema", Parameters: json.RawMessage(`{"type":"object","required":["path"]}`)}
	assert.Equal(t, map[string]any{"name": "echo_schema", "required": "path"}, l.Infer(ctx, "echo_schema", schema, ""))
	assert.Equal(t, map[string]any{"has_schema": false}, l.Infer(ctx, "no_schema", nil, ""))

	empty := l.Infer(ctx, "other", nil, "")
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestLuaFallback(t *testing.T) {
	path := writeScript(t, `
function infer(tool, task, schema)
  if tool == "boom" then error("exploded") end
  if tool == "string" then return "nope" end
  if tool == "list" then return { 1, 2, 3 } end
  if tool == "loop" then while true do end end
  return { ok = true }
end
`)
	l, err := NewLua(path, sentinel, 0, zerolog.Nop())
	require.NoError(t, err)

	for _, tool := range []string{"boom", "string", "list"} {
		t.Run(tool, func(t *testing.T) {
			assert.Equal(t, map[string]any{"fallback": true}, l.Infer(context.Background(), tool, nil, ""))
		})
	}

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, map[string]any{"fallback": true}, l.Infer(ctx, "loop", nil, ""))
	})

	assert.Equal(t, map[string]any{"ok": true}, l.Infer(context.Background(), "fine", nil, ""))
}

func TestLuaSelfReferencingTableFallsBack(t *testing.T) {
	path := writeScript(t, `
function infer(tool, task, schema)
  if tool == "self" then
    local t = { path = "x" }
    t.self = t
    return t
  end
  if tool == "nested" then
    local inner = { path = "x" }
    return { a = { b = inner }, c = { inner } }
  end
  if tool == "deep" then
    local t = {}
    for i = 1, 100 do t = { next = t } end
    return t
  end
  if tool == "cycle" then
    local a = {}
    local b = { a }
    a.b = b
    return { root = a }
  end
  return {}
end
`)
	l, err := NewLua(path, sentinel, 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	for _, tool := range []string{"self", "deep", "cycle"} {
		t.Run(tool, func(t *testing.T) {
			assert.Equal(t, map[string]any{"fallback": true}, l.Infer(ctx, tool, nil, ""))
		})
	}

	// The same table reached twice without a cycle is fine.
	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": map[string]any{"path": "x"}},
		"c": []any{map[string]any{"path": "x"}},
	}, l.Infer(ctx, "nested", nil, ""))
}

func TestLuaTimeoutFallsBack(t *testing.T) {
	path := writeScript(t, `
function infer(tool, task, schema)
  while true do end
end
`)
	l, err := NewLua(path, sentinel, 100*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan map[string]any, 1)
	go func() { done <- l.Infer(context.Background(), "spin", nil, "") }()

	select {
	case got := <-done:
		assert.Equal(t, map[string]any{"fallback": true}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("Infer did not return after the script timeout")
	}
}

func TestLuaEnvModule(t *testing.T) {
	t.Setenv("MCPAGENT_TEST_HOST", "db.internal")
	path := writeScript(t, `
local env = require("env")
function infer(tool, task, schema)
  return { host = env.getenv("MCPAGENT_TEST_HOST") }
end
`)
	l, err := NewLua(path, sentinel, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"host": "db.internal"}, l.Infer(context.Background(), "connect", nil, ""))
}

func TestNewLuaErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":      `function infer(`,
		"no infer":    `function prepare(text) return text end`,
		"not a func":  `infer = 42`,
		"load errors": `error("bad init")`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewLua(writeScript(t, src), sentinel, 0, zerolog.Nop())
			assert.Error(t, err)
		})
	}

	_, err := NewLua(filepath.Join(t.TempDir(), "missing.lua"), sentinel, 0, zerolog.Nop())
	assert.Error(t, err)
}
