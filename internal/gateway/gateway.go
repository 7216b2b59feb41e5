package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codyaverett/mcp-agent/internal/observe"
	"github.com/codyaverett/mcp-agent/internal/protocol"
)

const (
	// DefaultTimeout bounds a single backend call.
	DefaultTimeout = 2 * time.Minute
	// DefaultMaxOutputBytes caps captured backend output (4 MB).
	DefaultMaxOutputBytes = 4 * 1024 * 1024
)

// Gateway sends one phase command to the backend and returns its envelope.
// Implementations hold no per-call state and are safe for concurrent use.
type Gateway interface {
	Execute(ctx context.Context, cmd protocol.Command) (*protocol.Envelope, error)
}

// Config selects and tunes a Gateway.
type Config struct {
	// Backend is either a command line ("deno run --allow-all src/cli.ts"),
	// a ws:// or wss:// URL, or a grpc://host:port address.
	Backend        string
	Dir            string
	Env            []string
	Timeout        time.Duration
	MaxOutputBytes int
}

type mode string

const (
	modeProcess   mode = "process"
	modeWebSocket mode = "websocket"
	modeGRPC      mode = "grpc"
)

func detectMode(backend string) mode {
	lower := strings.ToLower(strings.TrimSpace(backend))
	switch {
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		return modeWebSocket
	case strings.HasPrefix(lower, "grpc://"):
		return modeGRPC
	default:
		return modeProcess
	}
}

// New builds the gateway matching cfg.Backend. Backend stderr, when the
// transport has one, is forwarded to sink.
func New(cfg Config, sink observe.Sink) (Gateway, error) {
	if strings.TrimSpace(cfg.Backend) == "" {
		return nil, fmt.Errorf("gateway: backend is required")
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	switch detectMode(cfg.Backend) {
	case modeWebSocket:
		return NewWebSocketGateway(strings.TrimSpace(cfg.Backend), cfg.Timeout, int64(cfg.MaxOutputBytes)), nil
	case modeGRPC:
		target := strings.TrimPrefix(strings.TrimSpace(cfg.Backend), "grpc://")
		g, err := NewGRPCGateway(target, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		argv, err := SplitCommand(cfg.Backend)
		if err != nil {
			return nil, err
		}
		g, err := NewProcessGateway(argv, ProcessOptions{
			Dir:            cfg.Dir,
			Env:            cfg.Env,
			Timeout:        cfg.Timeout,
			MaxOutputBytes: cfg.MaxOutputBytes,
			Sink:           sink,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func transportErr(cmd protocol.Command, format string, args ...any) error {
	return &protocol.TransportError{Command: cmd.String(), Err: fmt.Errorf(format, args...)}
}
