package infer

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinRules(t *testing.T) {
	r := NewRules(nil, true, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		task string
		want map[string]any
	}{
		{"navigate with url", "browser_navigate", "go to https://go.dev/doc and look", map[string]any{"url": "https://go.dev/doc"}},
		{"navigate http", "browser_navigate", "open http://localhost:8080", map[string]any{"url": "http://localhost:8080"}},
		{"navigate without url", "browser_navigate", "navigate to google.com", map[string]any{"url": "https://example.com"}},
		{"screenshot", "browser_screenshot", "take a screenshot", map[string]any{"filename": "screenshot.png", "fullPage": true}},
		{"read double quoted", "read_file", `read "docs/intro.md" please`, map[string]any{"path": "docs/intro.md"}},
		{"read single quoted", "read_file", "read 'go.mod'", map[string]any{"path": "go.mod"}},
		{"read first quoted wins", "read_file", `read "a.txt" then "b.txt"`, map[string]any{"path": "a.txt"}},
		{"read unquoted", "read_file", "read the README.md file", map[string]any{"path": "README.md"}},
		{"unknown tool", "write_file", "write 'x'", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Infer(ctx, tt.tool, nil, tt.task)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRulesReturnFreshMaps(t *testing.T) {
	r := NewRules(nil, true, zerolog.Nop())
	a := r.Infer(context.Background(), "browser_screenshot", nil, "")
	a["filename"] = "changed.png"

	b := r.Infer(context.Background(), "browser_screenshot", nil, "")
	assert.Equal(t, "screenshot.png", b["filename"])
}

func TestConfiguredRules(t *testing.T) {
	r := NewRules([]RuleConfig{
		{Tool: "read_file", Param: "path", Pattern: `file (\S+)`, Group: 1, Default: "main.go"},
		{Tool: "search", Param: "query", Pattern: `for (.+)$`, Group: 1},
		{Tool: "search", Param: "limit", Default: 10},
	}, true, zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, map[string]any{"path": "go.sum"}, r.Infer(ctx, "read_file", nil, "show file go.sum"))
	assert.Equal(t, map[string]any{"path": "main.go"}, r.Infer(ctx, "read_file", nil, `read "quoted.txt"`))
	assert.Equal(t, map[string]any{"query": "zerolog hooks", "limit": 10}, r.Infer(ctx, "search", nil, "search for zerolog hooks"))
	assert.Equal(t, map[string]any{"limit": 10}, r.Infer(ctx, "search", nil, "search"))
	assert.Equal(t, map[string]any{"url": "https://example.com"}, r.Infer(ctx, "browser_navigate", nil, "navigate"))
}

func TestRulesWithoutBuiltins(t *testing.T) {
	r := NewRules([]RuleConfig{{Tool: "ping", Param: "host", Default: "localhost"}}, false, zerolog.Nop())
	assert.Empty(t, r.Infer(context.Background(), "browser_navigate", nil, "https://go.dev"))
	assert.Equal(t, map[string]any{"host": "localhost"}, r.Infer(context.Background(), "ping", nil, ""))
}

func TestInvalidRulesAreSkipped(t *testing.T) {
	var buf bytes.Buffer
	r := NewRules([]RuleConfig{
		{Tool: "a", Param: "x", Pattern: `(unclosed`},
		{Tool: "b", Param: "y", Pattern: `(\d+)`, Group: 2},
		{Tool: "", Param: "z", Default: 1},
		{Tool: "c", Param: "n", Pattern: `(\d+)`, Group: 1},
	}, false, zerolog.New(&buf))

	assert.Empty(t, r.Infer(context.Background(), "a", nil, "anything"))
	assert.Empty(t, r.Infer(context.Background(), "b", nil, "42"))
	assert.Equal(t, map[string]any{"n": "42"}, r.Infer(context.Background(), "c", nil, "take 42"))
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte(`"level":"warn"`)))
}
