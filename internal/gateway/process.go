package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/codyaverett/mcp-agent/internal/observe"
	"github.com/codyaverett/mcp-agent/internal/protocol"
	"github.com/codyaverett/mcp-agent/internal/runctx"
)

const (
	maxStderrInError = 2048
	processWaitDelay = 2 * time.Second
)

// ProcessOptions tunes a ProcessGateway.
type ProcessOptions struct {
	Dir            string
	Env            []string
	Timeout        time.Duration
	MaxOutputBytes int
	Sink           observe.Sink
}

// ProcessGateway runs the backend CLI once per command and parses its stdout.
type ProcessGateway struct {
	argv []string
	opts ProcessOptions
}

// SplitCommand splits a configured backend command line into argv using
// shell-like quoting rules. No shell is involved when it runs.
func SplitCommand(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse backend command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("gateway: backend command is empty")
	}
	return argv, nil
}

// NewProcessGateway creates a gateway that executes argv followed by each
// command's arguments.
func NewProcessGateway(argv []string, opts ProcessOptions) (*ProcessGateway, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("gateway: backend command is empty")
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if opts.Sink == nil {
		opts.Sink = observe.Nop
	}
	return &ProcessGateway{
		argv: append([]string(nil), argv...),
		opts: opts,
	}, nil
}

// Execute runs the backend and decodes its envelope. Captured stdout is
// parsed whatever the exit status; backends report failures in the envelope.
func (g *ProcessGateway) Execute(ctx context.Context, cmd protocol.Command) (*protocol.Envelope, error) {
	callCtx, cancel := withTimeout(ctx, g.opts.Timeout)
	defer cancel()

	args := make([]string, 0, len(g.argv)-1+len(cmd.Args))
	args = append(args, g.argv[1:]...)
	args = append(args, cmd.Args...)

	c := exec.CommandContext(callCtx, g.argv[0], args...)
	c.Dir = g.opts.Dir
	if len(g.opts.Env) > 0 {
		c.Env = append(os.Environ(), g.opts.Env...)
	}
	c.WaitDelay = processWaitDelay

	stdout := &cappedBuffer{limit: g.opts.MaxOutputBytes}
	stderr := &cappedBuffer{limit: g.opts.MaxOutputBytes}
	c.Stdout = stdout
	c.Stderr = stderr

	runErr := c.Run()
	g.forwardStderr(ctx, cmd, stderr.String())

	if err := callCtx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && g.opts.Timeout > 0 {
			return nil, transportErr(cmd, "backend did not answer within %s: %w", g.opts.Timeout, err)
		}
		return nil, transportErr(cmd, "backend call aborted: %w", err)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, transportErr(cmd, "run %s: %w", g.argv[0], runErr)
		}
		if len(bytes.TrimSpace(stdout.Bytes())) == 0 {
			return nil, transportErr(cmd, "backend exited with status %d and no output: %s",
				exitErr.ExitCode(), tail(stderr.String(), maxStderrInError))
		}
	}

	if stdout.truncated {
		return nil, &protocol.MalformedResponseError{
			Phase: cmd.Phase,
			Raw:   stdout.Bytes(),
			Err:   fmt.Errorf("output exceeded %d bytes", g.opts.MaxOutputBytes),
		}
	}
	return protocol.DecodeEnvelope(cmd.Phase, bytes.TrimSpace(stdout.Bytes()))
}

func (g *ProcessGateway) forwardStderr(ctx context.Context, cmd protocol.Command, stderr string) {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return
	}
	g.opts.Sink.Emit(ctx, observe.Event{
		Time:    time.Now(),
		RunID:   runctx.RunID(ctx),
		Kind:    observe.KindBackendStderr,
		Phase:   cmd.Phase,
		Message: stderr,
	})
}

// cappedBuffer keeps the first limit bytes and silently drops the rest so a
// chatty backend never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(no stderr)"
	}
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
