// Package grpc implements the gRPC transport for obivox.
//
// The service is registered by hand instead of through protoc output: its
// messages travel as JSON under the "json" content-subtype, so any gRPC
// client can call /obivox.v1.Dispatch/Dispatch with
// grpc.CallContentSubtype("json"). The standard grpc.health.v1 service is
// registered alongside it for load balancers and Kubernetes probes.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/obivox/internal/config"
	"github.com/nadzzz/obivox/internal/message"
	"github.com/nadzzz/obivox/internal/observe"
	"github.com/nadzzz/obivox/internal/transport"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "obivox.v1.Dispatch"

// Full method names, for clients using conn.Invoke.
const (
	DispatchMethod = "/" + ServiceName + "/Dispatch"
	FeedbackMethod = "/" + ServiceName + "/Feedback"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals request and response structs as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// dispatchServer is the handler type of the service descriptor.
type dispatchServer interface {
	Dispatch(ctx context.Context, msg *message.Message) (*message.DispatchResult, error)
	Feedback(ctx context.Context, c *message.Correction) (*message.FeedbackResult, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*dispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
		{MethodName: "Feedback", Handler: feedbackHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "obivox/v1/dispatch",
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(dispatchServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DispatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(dispatchServer).Dispatch(ctx, req.(*message.Message))
	}
	return interceptor(ctx, in, info, handler)
}

func feedbackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.Correction)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(dispatchServer).Feedback(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FeedbackMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(dispatchServer).Feedback(ctx, req.(*message.Correction))
	}
	return interceptor(ctx, in, info, handler)
}

// server adapts a transport.Service to dispatchServer.
type server struct {
	svc transport.Service
}

func (s *server) Dispatch(ctx context.Context, msg *message.Message) (*message.DispatchResult, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	res, err := s.svc.Handle(ctx, msg)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *server) Feedback(ctx context.Context, c *message.Correction) (*message.FeedbackResult, error) {
	res, err := s.svc.Feedback(ctx, *c)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

// toStatus maps a pipeline error to a gRPC status error.
func toStatus(err error) error {
	code := codes.Internal
	switch transport.Classify(err) {
	case transport.KindInvalid:
		code = codes.InvalidArgument
	case transport.KindNotFound:
		code = codes.NotFound
	case transport.KindConflict:
		code = codes.AlreadyExists
	}
	return status.Error(code, err.Error())
}

// logInterceptor traces and logs every unary call.
func logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := observe.StartSpan(ctx, info.FullMethod)
	defer span.End()

	start := time.Now()
	resp, err := handler(ctx, req)
	observe.Logger(ctx).Debug("grpc request",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port int

	mu     sync.Mutex
	server *grpc.Server
	health *health.Server
}

// New creates a new gRPC transport.
func New(cfg config.GRPCConfig) *Transport {
	return &Transport{port: cfg.Port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and routes incoming requests to svc.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	slog.Info("grpc transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		_ = t.Close()
	}()

	return t.Serve(lis, svc)
}

// Serve registers the services and serves on lis until the server stops.
func (t *Transport) Serve(lis net.Listener, svc transport.Service) error {
	srv := grpc.NewServer(grpc.UnaryInterceptor(logInterceptor))
	srv.RegisterService(&serviceDesc, &server{svc: svc})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	t.mu.Lock()
	t.server, t.health = srv, hs
	t.mu.Unlock()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Close marks the service as not serving and stops the server, draining
// in-flight calls.
func (t *Transport) Close() error {
	t.mu.Lock()
	srv, hs := t.server, t.health
	t.mu.Unlock()

	if hs != nil {
		hs.Shutdown()
	}
	if srv != nil {
		srv.GracefulStop()
	}
	return nil
}
