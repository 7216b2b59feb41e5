// Package phase implements the three progressive-disclosure phases on top of
// a gateway: discovery, schema loading and execution.
package phase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codyaverett/mcp-agent/internal/gateway"
	"github.com/codyaverett/mcp-agent/internal/observe"
	"github.com/codyaverett/mcp-agent/internal/protocol"
	"github.com/codyaverett/mcp-agent/internal/runctx"
)

// Client issues phase commands and validates their envelopes. It keeps no
// state between calls.
type Client struct {
	gw   gateway.Gateway
	sink observe.Sink
}

// NewClient returns a Client that sends commands through gw and reports
// progress to sink (nil means no reporting).
func NewClient(gw gateway.Gateway, sink observe.Sink) *Client {
	if sink == nil {
		sink = observe.Nop
	}
	return &Client{gw: gw, sink: sink}
}

// Discover asks the backend which tools match task. An empty match list is
// not an error here; deciding what to do with it is the caller's job.
func (c *Client) Discover(ctx context.Context, task string) (*protocol.Discovery, error) {
	cmd := protocol.DiscoverCommand(task)
	res, err := c.call(ctx, cmd, "", "")
	if err != nil {
		return nil, err
	}

	var d protocol.Discovery
	if !isNull(res.data) {
		if err := json.Unmarshal(res.data, &d); err != nil {
			return nil, c.malformed(ctx, cmd, res, fmt.Errorf("decode discovery: %w", err))
		}
	}
	if d.Matches == nil {
		d.Matches = []protocol.ToolMatch{}
	}

	ev := res.completed(cmd, "", "")
	ev.Count = len(d.Matches)
	if d.SuggestedBatch != nil {
		ev.Message = fmt.Sprintf("suggested batch on %s (%d operations)",
			d.SuggestedBatch.Server, len(d.SuggestedBatch.Operations))
	}
	c.emit(ctx, ev)
	return &d, nil
}

// LoadSchemas fetches the schemas of tools on server in one call. The
// backend may answer with a single object, an array or null; the result
// holds exactly the schemas it returned.
func (c *Client) LoadSchemas(ctx context.Context, server string, tools []string) ([]protocol.ToolSchema, error) {
	cmd := protocol.SchemaCommand(server, tools)
	res, err := c.call(ctx, cmd, server, "")
	if err != nil {
		return nil, err
	}

	schemas, err := decodeSchemas(res.data)
	if err != nil {
		return nil, c.malformed(ctx, cmd, res, err)
	}

	ev := res.completed(cmd, server, "")
	ev.Count = len(schemas)
	c.emit(ctx, ev)
	return schemas, nil
}

// ExecuteOne invokes a single tool and returns its result payload.
func (c *Client) ExecuteOne(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error) {
	cmd, err := protocol.ExecCommand(server, tool, args)
	if err != nil {
		return nil, err
	}
	res, err := c.call(ctx, cmd, server, tool)
	if err != nil {
		return nil, err
	}
	c.emit(ctx, res.completed(cmd, server, tool))
	return res.data, nil
}

// ExecuteBatch invokes ops together on server. transactional is forwarded
// to the backend unchanged; nothing is retried or replayed here.
func (c *Client) ExecuteBatch(ctx context.Context, server string, ops []protocol.Operation, transactional bool) (json.RawMessage, error) {
	cmd, err := protocol.BatchCommand(server, ops, transactional)
	if err != nil {
		return nil, err
	}
	res, err := c.call(ctx, cmd, server, "")
	if err != nil {
		return nil, err
	}
	ev := res.completed(cmd, server, "")
	ev.Count = len(ops)
	c.emit(ctx, ev)
	return res.data, nil
}

// FindSchema returns the schema named name, if present.
func FindSchema(schemas []protocol.ToolSchema, name string) (*protocol.ToolSchema, bool) {
	for i := range schemas {
		if schemas[i].Name == name {
			return &schemas[i], true
		}
	}
	return nil, false
}

type callResult struct {
	data     json.RawMessage
	meta     protocol.Metadata
	duration time.Duration
}

func (r callResult) completed(cmd protocol.Command, server, tool string) observe.Event {
	return observe.Event{
		Kind:           observe.KindPhaseCompleted,
		Phase:          cmd.Phase,
		Server:         server,
		Tool:           tool,
		TokensEstimate: r.meta.TokensEstimate,
		ExecutionTime:  r.meta.ExecutionTime,
		Duration:       r.duration,
	}
}

// call sends cmd and unwraps its envelope, emitting phase_started and, on
// any failure, phase_failed. Completion is left to the caller so the event
// can carry what it decoded.
func (c *Client) call(ctx context.Context, cmd protocol.Command, server, tool string) (callResult, error) {
	c.emit(ctx, observe.Event{
		Kind:    observe.KindPhaseStarted,
		Phase:   cmd.Phase,
		Server:  server,
		Tool:    tool,
		Message: cmd.String(),
	})

	start := time.Now()
	env, err := c.gw.Execute(ctx, cmd)
	res := callResult{duration: time.Since(start)}
	if err == nil {
		res.data, res.meta, err = protocol.Unwrap(env, cmd.Phase)
	}
	if err != nil {
		c.emit(ctx, observe.Event{
			Kind:     observe.KindPhaseFailed,
			Phase:    cmd.Phase,
			Server:   server,
			Tool:     tool,
			Duration: res.duration,
			Err:      err.Error(),
		})
		return res, err
	}
	return res, nil
}

func (c *Client) malformed(ctx context.Context, cmd protocol.Command, res callResult, err error) error {
	merr := &protocol.MalformedResponseError{Phase: cmd.Phase, Raw: res.data, Err: err}
	c.emit(ctx, observe.Event{
		Kind:     observe.KindPhaseFailed,
		Phase:    cmd.Phase,
		Duration: res.duration,
		Err:      merr.Error(),
	})
	return merr
}

func (c *Client) emit(ctx context.Context, e observe.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.RunID == "" {
		e.RunID = runctx.RunID(ctx)
	}
	c.sink.Emit(ctx, e)
}

func decodeSchemas(data json.RawMessage) ([]protocol.ToolSchema, error) {
	trimmed := bytes.TrimSpace(data)
	switch {
	case isNull(trimmed):
		return []protocol.ToolSchema{}, nil
	case trimmed[0] == '[':
		var schemas []protocol.ToolSchema
		if err := json.Unmarshal(trimmed, &schemas); err != nil {
			return nil, fmt.Errorf("decode schema list: %w", err)
		}
		if schemas == nil {
			schemas = []protocol.ToolSchema{}
		}
		return schemas, nil
	case trimmed[0] == '{':
		var s protocol.ToolSchema
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decode schema: %w", err)
		}
		return []protocol.ToolSchema{s}, nil
	default:
		return nil, fmt.Errorf("schema data is neither an object nor an array")
	}
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
