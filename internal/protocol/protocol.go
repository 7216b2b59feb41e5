package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase names as they appear in errors and events.
const (
	PhaseDiscover = "discover"
	PhaseSchema   = "schema"
	PhaseExec     = "exec"
	PhaseBatch    = "batch"
)

// Envelope is the response shape every phase call returns.
type Envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ErrorInfo      `json:"error,omitempty"`
	Metadata Metadata        `json:"metadata,omitempty"`
}

// ErrorInfo is present when Success is false.
type ErrorInfo struct {
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Metadata is advisory instrumentation attached by the backend.
type Metadata struct {
	TokensEstimate *float64 `json:"tokensEstimate,omitempty"`
	ExecutionTime  *float64 `json:"executionTime,omitempty"`
}

// ToolMatch is one discovery candidate.
type ToolMatch struct {
	Server      string  `json:"server"`
	Tool        string  `json:"tool"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// SuggestedBatch is the backend's recommendation to run several tools of
// one server together.
type SuggestedBatch struct {
	Server     string   `json:"server"`
	Operations []string `json:"operations"`
}

// Discovery is the data payload of a discover response.
type Discovery struct {
	Matches        []ToolMatch     `json:"matches"`
	SuggestedBatch *SuggestedBatch `json:"suggested_batch,omitempty"`
}

// ToolSchema is the argument contract of one tool.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// UnmarshalJSON accepts the MCP-native "inputSchema" key when "parameters"
// is absent.
func (s *ToolSchema) UnmarshalJSON(b []byte) error {
	var wire struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	s.Name = wire.Name
	s.Description = wire.Description
	s.Parameters = wire.Parameters
	if len(s.Parameters) == 0 {
		s.Parameters = wire.InputSchema
	}
	return nil
}

// Operation is one unit of execution, alone or inside a batch.
type Operation struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Command is a fully-formed phase request. Args is the argument tail that
// follows the backend executable; it is never passed through a shell.
type Command struct {
	Phase string
	Args  []string
}

// String renders the command for logs, quoting arguments that need it.
func (c Command) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\") {
			parts[i] = strconv.Quote(a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

// DiscoverCommand asks the backend for tools matching a task.
func DiscoverCommand(task string) Command {
	return Command{Phase: PhaseDiscover, Args: []string{"discover", task}}
}

// SchemaCommand asks for the schemas of exactly the given tools.
func SchemaCommand(server string, tools []string) Command {
	args := make([]string, 0, len(tools)+3)
	args = append(args, "tools", "schema", server)
	args = append(args, tools...)
	return Command{Phase: PhaseSchema, Args: args}
}

// ExecCommand invokes a single tool.
func ExecCommand(server, tool string, args map[string]any) (Command, error) {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Command{}, fmt.Errorf("encode args for %s:%s: %w", server, tool, err)
	}
	return Command{
		Phase: PhaseExec,
		Args:  []string{"tools", "exec", server, tool, "--args", string(data)},
	}, nil
}

// BatchCommand invokes several tools together. The transactional flag is
// forwarded as-is; atomicity is the backend's job.
func BatchCommand(server string, ops []Operation, transactional bool) (Command, error) {
	if ops == nil {
		ops = []Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return Command{}, fmt.Errorf("encode batch operations for %s: %w", server, err)
	}
	args := []string{"tools", "batch", server}
	if transactional {
		args = append(args, "--transactional")
	}
	args = append(args, "--operations", string(data))
	return Command{Phase: PhaseBatch, Args: args}, nil
}

// DecodeEnvelope parses raw backend output into an Envelope. The output must
// be a JSON object carrying a boolean success field; anything else, including
// null, is a MalformedResponseError.
func DecodeEnvelope(phase string, raw []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &MalformedResponseError{Phase: phase, Raw: raw, Err: errors.New("output is not a JSON object")}
	}
	var wire struct {
		Envelope
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, &MalformedResponseError{Phase: phase, Raw: raw, Err: err}
	}
	if wire.Success == nil {
		return nil, &MalformedResponseError{Phase: phase, Raw: raw, Err: errors.New(`missing "success" field`)}
	}
	env := wire.Envelope
	env.Success = *wire.Success
	return &env, nil
}

// Unwrap validates an envelope for the named phase and returns its data.
func Unwrap(env *Envelope, phase string) (json.RawMessage, Metadata, error) {
	if env == nil {
		return nil, Metadata{}, &MalformedResponseError{Phase: phase, Err: fmt.Errorf("empty envelope")}
	}
	if !env.Success {
		pe := &PhaseError{Phase: phase, Message: "unknown error"}
		if env.Error != nil {
			if env.Error.Message != "" {
				pe.Message = env.Error.Message
			}
			pe.Details = env.Error.Details
		}
		return nil, env.Metadata, pe
	}
	return env.Data, env.Metadata, nil
}
