// Package infer turns a task description and a tool schema into concrete
// tool arguments.
package infer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/failover"
	"github.com/codyaverett/mcp-agent/internal/protocol"
	"github.com/codyaverett/mcp-agent/internal/provider"
)

// Inferrer produces arguments for one tool. It never fails: when nothing can
// be inferred the result is an empty, non-nil map. schema may be nil.
type Inferrer interface {
	Infer(ctx context.Context, tool string, schema *protocol.ToolSchema, task string) map[string]any
}

// Func adapts a function to Inferrer.
type Func func(ctx context.Context, tool string, schema *protocol.ToolSchema, task string) map[string]any

func (f Func) Infer(ctx context.Context, tool string, schema *protocol.ToolSchema, task string) map[string]any {
	return f(ctx, tool, schema, task)
}

const (
	StrategyRules = "rules"
	StrategyLua   = "lua"
	StrategyModel = "model"
)

// Config mirrors config.InferenceConfig to avoid circular imports.
type Config struct {
	Strategy        string
	Rules           []RuleConfig
	DisableBuiltins bool

	LuaScript string

	Model     string
	Fallbacks []string
	Providers []provider.ProviderConfig
	Timeout   time.Duration
}

// New builds the configured strategy. Lua and model strategies fall back to
// the rule set when they cannot answer.
func New(cfg Config, logger zerolog.Logger) (Inferrer, error) {
	logger = logger.With().Str("component", "infer").Logger()
	rules := NewRules(cfg.Rules, !cfg.DisableBuiltins, logger)

	switch cfg.Strategy {
	case "", StrategyRules:
		return rules, nil
	case StrategyLua:
		if cfg.LuaScript == "" {
			return nil, fmt.Errorf("infer: lua strategy requires a script")
		}
		return NewLua(cfg.LuaScript, rules, cfg.Timeout, logger)
	case StrategyModel:
		ref, err := provider.ParseModelRef(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("infer: %w", err)
		}
		reg, err := provider.NewRegistryFromConfig(cfg.Providers)
		if err != nil {
			return nil, fmt.Errorf("infer: %w", err)
		}
		fallbacks, err := provider.ParseModelRefs(cfg.Fallbacks)
		if err != nil {
			return nil, fmt.Errorf("infer: fallback models: %w", err)
		}
		ctrl, err := failover.NewController(reg, nil, ref, fallbacks, logger)
		if err != nil {
			return nil, fmt.Errorf("infer: %w", err)
		}
		return NewModel(ctrl, ref.Model(), rules, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("infer: unknown strategy %q (want %s, %s or %s)",
			cfg.Strategy, StrategyRules, StrategyLua, StrategyModel)
	}
}
