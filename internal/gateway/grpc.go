package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

const (
	grpcServiceName   = "mcpagent.v1.Gateway"
	grpcExecuteMethod = "/" + grpcServiceName + "/Execute"
)

// BackendHandler answers phase commands on behalf of a Go-hosted backend.
type BackendHandler interface {
	Handle(ctx context.Context, cmd protocol.Command) *protocol.Envelope
}

// BackendFunc adapts a function to BackendHandler.
type BackendFunc func(ctx context.Context, cmd protocol.Command) *protocol.Envelope

func (f BackendFunc) Handle(ctx context.Context, cmd protocol.Command) *protocol.Envelope {
	return f(ctx, cmd)
}

// GRPCGateway calls a backend over gRPC using well-known types, so no
// generated stubs are needed. The request is a google.protobuf.Struct
// {phase, argv}; the response is a google.protobuf.BytesValue holding the
// envelope JSON verbatim, which keeps large integers in tool payloads exact.
type GRPCGateway struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewGRPCGateway creates a client for target (host:port). Without dial
// options the connection is plaintext.
func NewGRPCGateway(target string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCGateway, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: grpc client for %s: %w", target, err)
	}
	return &GRPCGateway{conn: conn, timeout: timeout}, nil
}

func (g *GRPCGateway) Execute(ctx context.Context, cmd protocol.Command) (*protocol.Envelope, error) {
	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	argv := make([]any, len(cmd.Args))
	for i, a := range cmd.Args {
		argv[i] = a
	}
	req, err := structpb.NewStruct(map[string]any{"phase": cmd.Phase, "argv": argv})
	if err != nil {
		return nil, transportErr(cmd, "build request: %w", err)
	}

	resp := &wrapperspb.BytesValue{}
	if err := g.conn.Invoke(callCtx, grpcExecuteMethod, req, resp); err != nil {
		return nil, transportErr(cmd, "invoke %s: %w", grpcExecuteMethod, err)
	}
	return protocol.DecodeEnvelope(cmd.Phase, resp.GetValue())
}

// Close releases the underlying connection.
func (g *GRPCGateway) Close() error {
	return g.conn.Close()
}

// RegisterGRPCBackend serves h on s under the service GRPCGateway calls.
func RegisterGRPCBackend(s *grpc.Server, h BackendHandler) {
	s.RegisterService(&grpcServiceDesc, h)
}

var grpcServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*BackendHandler)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Execute",
		Handler:    grpcExecuteHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mcpagent/v1/gateway.proto",
}

func grpcExecuteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		return serveStruct(ctx, srv.(BackendHandler), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcExecuteMethod}
	return interceptor(ctx, in, info, handle)
}

func serveStruct(ctx context.Context, h BackendHandler, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	cmd := protocol.Command{Phase: in.GetFields()["phase"].GetStringValue()}
	for _, v := range in.GetFields()["argv"].GetListValue().GetValues() {
		cmd.Args = append(cmd.Args, v.GetStringValue())
	}

	env := h.Handle(ctx, cmd)
	data, err := json.Marshal(env)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode envelope: %v", err)
	}
	return wrapperspb.Bytes(data), nil
}
