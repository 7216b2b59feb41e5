package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/protocol"
	"github.com/codyaverett/mcp-agent/internal/provider"
)

const (
	defaultModelTimeout   = 30 * time.Second
	defaultModelMaxTokens = 512
)

const modelSystemPrompt = `You fill in arguments for a single tool call.
Reply with one JSON object whose keys are the tool's parameter names.
Use only parameters defined by the schema and omit any you cannot infer from the task.`

// Model asks an LLM for the arguments and falls back when the reply is
// unusable.
type Model struct {
	provider provider.Provider
	model    string
	fallback Inferrer
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewModel(p provider.Provider, model string, fallback Inferrer, timeout time.Duration, logger zerolog.Logger) *Model {
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	return &Model{provider: p, model: model, fallback: fallback, timeout: timeout, logger: logger}
}

func (m *Model) Infer(ctx context.Context, tool string, schema *protocol.ToolSchema, task string) map[string]any {
	args, err := m.complete(ctx, tool, schema, task)
	if err != nil {
		m.logger.Warn().Err(err).Str("tool", tool).Str("provider", m.provider.ID()).Str("model", m.model).
			Msg("model inference failed, using fallback")
		return m.fallback.Infer(ctx, tool, schema, task)
	}
	return args
}

func (m *Model) complete(ctx context.Context, tool string, schema *protocol.ToolSchema, task string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	temperature := 0.0
	resp, err := m.provider.Complete(ctx, &provider.CompletionRequest{
		Model:       m.model,
		MaxTokens:   defaultModelMaxTokens,
		Temperature: &temperature,
		JSONObject:  true,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: modelSystemPrompt},
			{Role: provider.RoleUser, Content: userPrompt(tool, schema, task)},
		},
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Str("tool", tool).Str("model", resp.Model).
		Int("input_tokens", resp.Usage.InputTokens).Int("output_tokens", resp.Usage.OutputTokens).
		Msg("model inferred arguments")
	return parseArgs(resp.Content)
}

func userPrompt(tool string, schema *protocol.ToolSchema, task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\n", tool)
	if schema != nil {
		if schema.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", schema.Description)
		}
		if len(schema.Parameters) > 0 {
			fmt.Fprintf(&b, "Parameters schema: %s\n", schema.Parameters)
		}
	} else {
		b.WriteString("Parameters schema: unavailable\n")
	}
	fmt.Fprintf(&b, "Task: %s", task)
	return b.String()
}

// parseArgs accepts a bare JSON object, optionally inside a Markdown code
// fence.
func parseArgs(content string) (map[string]any, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if !strings.HasPrefix(s, "{") {
		return nil, fmt.Errorf("model reply is not a JSON object: %.80q", content)
	}

	var args map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
