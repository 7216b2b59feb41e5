package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

// wireRequest is what network transports send for one command.
type wireRequest struct {
	Phase string   `json:"phase"`
	Argv  []string `json:"argv"`
}

// WebSocketGateway sends each command over a fresh WebSocket connection and
// reads exactly one envelope back.
type WebSocketGateway struct {
	url       string
	timeout   time.Duration
	readLimit int64
	header    http.Header
}

// NewWebSocketGateway creates a gateway for a ws:// or wss:// endpoint.
func NewWebSocketGateway(url string, timeout time.Duration, readLimit int64) *WebSocketGateway {
	if readLimit <= 0 {
		readLimit = DefaultMaxOutputBytes
	}
	return &WebSocketGateway{url: url, timeout: timeout, readLimit: readLimit}
}

// WithHeader sets HTTP headers (e.g. Authorization) sent on the handshake.
func (g *WebSocketGateway) WithHeader(h http.Header) *WebSocketGateway {
	g.header = h
	return g
}

func (g *WebSocketGateway) Execute(ctx context.Context, cmd protocol.Command) (*protocol.Envelope, error) {
	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(callCtx, g.url, &websocket.DialOptions{HTTPHeader: g.header})
	if err != nil {
		return nil, transportErr(cmd, "dial %s: %w", g.url, err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(g.readLimit)

	if err := wsjson.Write(callCtx, conn, wireRequest{Phase: cmd.Phase, Argv: cmd.Args}); err != nil {
		return nil, transportErr(cmd, "write request: %w", err)
	}
	_, data, err := conn.Read(callCtx)
	if err != nil {
		return nil, transportErr(cmd, "read response: %w", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	return protocol.DecodeEnvelope(cmd.Phase, data)
}

// ServeWebSocketBackend exposes a Go-hosted backend over WebSocket using the
// same one-request-per-connection framing WebSocketGateway speaks.
func ServeWebSocketBackend(h BackendHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()

		var req wireRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		env := h.Handle(r.Context(), protocol.Command{Phase: req.Phase, Args: req.Argv})
		data, err := json.Marshal(env)
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "encode envelope")
			return
		}
		if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
}
