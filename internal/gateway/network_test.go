package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

// echoBackend answers every command with its own argv.
var echoBackend = BackendFunc(func(_ context.Context, cmd protocol.Command) *protocol.Envelope {
	if cmd.Phase == protocol.PhaseExec {
		return &protocol.Envelope{Error: &protocol.ErrorInfo{Message: "tool not allowed"}}
	}
	data, _ := json.Marshal(map[string]any{"phase": cmd.Phase, "argv": cmd.Args})
	tokens := 7.0
	return &protocol.Envelope{Success: true, Data: data, Metadata: protocol.Metadata{TokensEstimate: &tokens}}
})

type echoed struct {
	Phase string   `json:"phase"`
	Argv  []string `json:"argv"`
}

func TestWebSocketGatewayRoundTrip(t *testing.T) {
	srv := httptest.NewServer(ServeWebSocketBackend(echoBackend))
	defer srv.Close()

	g := NewWebSocketGateway("ws"+strings.TrimPrefix(srv.URL, "http"), 5*time.Second, 0)
	cmd := protocol.SchemaCommand("fs", []string{"read_file", "write_file"})

	env, err := g.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.Equal(t, 7.0, *env.Metadata.TokensEstimate)

	var got echoed
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, protocol.PhaseSchema, got.Phase)
	assert.Equal(t, cmd.Args, got.Argv)
}

func TestWebSocketGatewayBackendFailure(t *testing.T) {
	srv := httptest.NewServer(ServeWebSocketBackend(echoBackend))
	defer srv.Close()

	g := NewWebSocketGateway("ws"+strings.TrimPrefix(srv.URL, "http"), 5*time.Second, 0)
	cmd, err := protocol.ExecCommand("fs", "delete_file", nil)
	require.NoError(t, err)

	env, err := g.Execute(context.Background(), cmd)
	require.NoError(t, err)
	_, _, err = protocol.Unwrap(env, cmd.Phase)

	var pe *protocol.PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "tool not allowed", pe.Message)
}

func TestWebSocketGatewayUnreachable(t *testing.T) {
	srv := httptest.NewServer(ServeWebSocketBackend(echoBackend))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	g := NewWebSocketGateway(url, time.Second, 0)
	_, err := g.Execute(context.Background(), protocol.DiscoverCommand("x"))

	var te *protocol.TransportError
	require.ErrorAs(t, err, &te)
}

func startBufconnBackend(t *testing.T, h BackendHandler) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterGRPCBackend(s, h)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return lis
}

func bufconnGateway(t *testing.T, lis *bufconn.Listener, timeout time.Duration) *GRPCGateway {
	t.Helper()
	g, err := NewGRPCGateway("passthrough:///bufnet", timeout,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestGRPCGatewayRoundTrip(t *testing.T) {
	g := bufconnGateway(t, startBufconnBackend(t, echoBackend), 5*time.Second)

	ops := []protocol.Operation{
		{Tool: "browser_navigate", Args: map[string]any{"url": "https://example.com"}},
		{Tool: "browser_screenshot", Args: map[string]any{"fullPage": true}},
	}
	cmd, err := protocol.BatchCommand("playwright", ops, true)
	require.NoError(t, err)

	env, err := g.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.Equal(t, 7.0, *env.Metadata.TokensEstimate)

	var got echoed
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, protocol.PhaseBatch, got.Phase)
	assert.Equal(t, cmd.Args, got.Argv)
}

func TestGRPCGatewayKeepsLargeIntegers(t *testing.T) {
	const big = `{"id":9007199254740993,"size":18446744073709551615}`
	h := BackendFunc(func(context.Context, protocol.Command) *protocol.Envelope {
		return &protocol.Envelope{Success: true, Data: json.RawMessage(big)}
	})
	g := bufconnGateway(t, startBufconnBackend(t, h), 5*time.Second)

	env, err := g.Execute(context.Background(), protocol.DiscoverCommand("x"))
	require.NoError(t, err)
	assert.JSONEq(t, big, string(env.Data))
	assert.Contains(t, string(env.Data), "9007199254740993")
}

func TestGRPCGatewayBackendFailure(t *testing.T) {
	g := bufconnGateway(t, startBufconnBackend(t, echoBackend), 5*time.Second)
	cmd, err := protocol.ExecCommand("fs", "delete_file", map[string]any{"path": "/"})
	require.NoError(t, err)

	env, err := g.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "tool not allowed", env.Error.Message)
}

func TestGRPCGatewayUnreachable(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())

	g := bufconnGateway(t, lis, 500*time.Millisecond)
	_, err := g.Execute(context.Background(), protocol.DiscoverCommand("x"))

	var te *protocol.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "discover x", te.Command)
}

func TestDetectMode(t *testing.T) {
	tests := []struct {
		backend string
		want    mode
	}{
		{"deno run --allow-all src/cli.ts", modeProcess},
		{"./bin/mcp", modeProcess},
		{"ws://localhost:8080/mcp", modeWebSocket},
		{"WSS://gateway.example.com", modeWebSocket},
		{"grpc://localhost:9090", modeGRPC},
		{"  grpc://10.0.0.1:9090 ", modeGRPC},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			assert.Equal(t, tt.want, detectMode(tt.backend))
		})
	}
}

func TestNew(t *testing.T) {
	g, err := New(Config{Backend: "deno run src/cli.ts"}, nil)
	require.NoError(t, err)
	pg, ok := g.(*ProcessGateway)
	require.True(t, ok)
	assert.Equal(t, []string{"deno", "run", "src/cli.ts"}, pg.argv)
	assert.Equal(t, DefaultMaxOutputBytes, pg.opts.MaxOutputBytes)

	g, err = New(Config{Backend: "ws://localhost:1/mcp"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebSocketGateway{}, g)

	g, err = New(Config{Backend: "grpc://localhost:1"}, nil)
	require.NoError(t, err)
	require.IsType(t, &GRPCGateway{}, g)
	_ = g.(*GRPCGateway).Close()

	_, err = New(Config{Backend: "  "}, nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: `deno "unterminated`}, nil)
	assert.Error(t, err)
}
