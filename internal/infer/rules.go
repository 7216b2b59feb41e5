package infer

import (
	"context"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

// RuleConfig is one configured extraction rule. A rule without a pattern
// always yields Default.
type RuleConfig struct {
	Tool    string `yaml:"tool"`
	Param   string `yaml:"param"`
	Pattern string `yaml:"pattern"`
	Group   int    `yaml:"group"`
	Default any    `yaml:"default"`
}

type rule struct {
	tool    string
	param   string
	pattern *regexp.Regexp
	group   int
	def     any
}

// Rules infers arguments from per-tool regular expressions with defaults.
type Rules struct {
	byTool map[string][]rule
}

// BuiltinRules returns the default heuristics for the common browser and
// filesystem tools.
func BuiltinRules() []RuleConfig {
	return []RuleConfig{
		{Tool: "browser_navigate", Param: "url", Pattern: `https?://\S+`, Default: "https://example.com"},
		{Tool: "browser_screenshot", Param: "filename", Default: "screenshot.png"},
		{Tool: "browser_screenshot", Param: "fullPage", Default: true},
		{Tool: "read_file", Param: "path", Pattern: `["']([^"']+)["']`, Group: 1, Default: "README.md"},
	}
}

// NewRules compiles cfgs, optionally on top of the built-in rules. A
// configured rule replaces a built-in one for the same tool and parameter.
// Rules that do not compile are logged and skipped.
func NewRules(cfgs []RuleConfig, builtins bool, logger zerolog.Logger) *Rules {
	all := cfgs
	if builtins {
		all = append(BuiltinRules(), cfgs...)
	}

	r := &Rules{byTool: make(map[string][]rule)}
	for _, c := range all {
		if c.Tool == "" || c.Param == "" {
			logger.Warn().Str("tool", c.Tool).Str("param", c.Param).Msg("skipping inference rule without tool or param")
			continue
		}
		ru := rule{tool: c.Tool, param: c.Param, group: c.Group, def: c.Default}
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				logger.Warn().Err(err).Str("tool", c.Tool).Str("param", c.Param).Msg("skipping inference rule with invalid pattern")
				continue
			}
			if c.Group < 0 || c.Group > re.NumSubexp() {
				logger.Warn().Str("tool", c.Tool).Str("param", c.Param).Int("group", c.Group).Msg("skipping inference rule with out-of-range group")
				continue
			}
			ru.pattern = re
		}
		r.add(ru)
	}
	return r
}

func (r *Rules) add(ru rule) {
	rules := r.byTool[ru.tool]
	for i := range rules {
		if rules[i].param == ru.param {
			rules[i] = ru
			return
		}
	}
	r.byTool[ru.tool] = append(rules, ru)
}

// Infer applies every rule for tool. Unknown tools yield an empty map.
func (r *Rules) Infer(_ context.Context, tool string, _ *protocol.ToolSchema, task string) map[string]any {
	args := make(map[string]any)
	for _, ru := range r.byTool[tool] {
		if ru.pattern != nil {
			if m := ru.pattern.FindStringSubmatch(task); m != nil && m[ru.group] != "" {
				args[ru.param] = m[ru.group]
				continue
			}
		}
		if ru.def != nil {
			args[ru.param] = ru.def
		}
	}
	return args
}
