// gRPC mirror of the HTTP API. Messages are google.protobuf.Struct values
// carrying the same JSON shapes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// TimelineServiceName is the fully qualified gRPC service name
const TimelineServiceName = "debugtimeline.v1.TimelineService"

// TimelineServiceServer is the server API for TimelineService
type TimelineServiceServer interface {
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Timeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkBugFree(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Undo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JumpBugFree(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Analytics(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(TimelineServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func fullMethod(name string) string {
	return "/" + TimelineServiceName + "/" + name
}

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TimelineServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TimelineServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// TimelineServiceDesc describes TimelineService for grpc.Server
var TimelineServiceDesc = grpc.ServiceDesc{
	ServiceName: TimelineServiceName,
	HandlerType: (*TimelineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Step", TimelineServiceServer.Step),
		unary("Timeline", TimelineServiceServer.Timeline),
		unary("MarkBugFree", TimelineServiceServer.MarkBugFree),
		unary("Undo", TimelineServiceServer.Undo),
		unary("JumpBugFree", TimelineServiceServer.JumpBugFree),
		unary("Analytics", TimelineServiceServer.Analytics),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "debugtimeline/v1/timeline.proto",
}

// RegisterTimelineServiceServer registers srv on r
func RegisterTimelineServiceServer(r grpc.ServiceRegistrar, srv TimelineServiceServer) {
	r.RegisterService(&TimelineServiceDesc, srv)
}

// NewGRPCServer builds a gRPC server with the timeline and health services
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{
		grpc.UnaryInterceptor(GrpcMetricsInterceptor(s.metrics, s.log)),
	}, opts...)
	gs := grpc.NewServer(opts...)

	RegisterTimelineServiceServer(gs, s)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(TimelineServiceName, healthpb.HealthCheckResponse_SERVING)

	return gs, hs
}

func (s *Server) Step(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	codeText, err := optionalString(req, "codeText")
	if err != nil {
		return nil, grpcError(err)
	}
	note, err := optionalString(req, "note")
	if err != nil {
		return nil, grpcError(err)
	}
	errorType, err := optionalString(req, "errorType")
	if err != nil {
		return nil, grpcError(err)
	}

	v, err := s.step(codeText, note, errorType)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(v)
}

func (s *Server) Timeline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.timeline())
}

func (s *Server) MarkBugFree(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredID(req)
	if err != nil {
		return nil, grpcError(err)
	}
	v, err := s.markBugFree(id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(currentResponse{Current: v})
}

func (s *Server) Undo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, err := s.undo()
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(currentResponse{Current: v})
}

func (s *Server) JumpBugFree(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, err := s.jumpBugFree()
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(currentResponse{Current: v})
}

func (s *Server) Analytics(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.analytics())
}

func optionalString(req *structpb.Struct, field string) (string, error) {
	v, ok := req.GetFields()[field]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", badRequest(fmt.Sprintf("%s must be a string", field))
	}
}

func requiredID(req *structpb.Struct) (int64, error) {
	v, ok := req.GetFields()["id"]
	if !ok {
		return 0, badRequest("missing id parameter")
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
		return 0, badRequest("invalid id parameter")
	}
	return int64(n.NumberValue), nil
}

// toStruct converts a JSON-tagged value into a Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, grpcError(fmt.Errorf("encode response: %w", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, grpcError(fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}

// TimelineClient calls TimelineService
type TimelineClient struct {
	cc grpc.ClientConnInterface
}

// NewTimelineClient creates a client on cc
func NewTimelineClient(cc grpc.ClientConnInterface) *TimelineClient {
	return &TimelineClient{cc: cc}
}

func (c *TimelineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TimelineClient) Step(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Step", in, opts...)
}

func (c *TimelineClient) Timeline(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Timeline", in, opts...)
}

func (c *TimelineClient) MarkBugFree(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "MarkBugFree", in, opts...)
}

func (c *TimelineClient) Undo(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Undo", in, opts...)
}

func (c *TimelineClient) JumpBugFree(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "JumpBugFree", in, opts...)
}

func (c *TimelineClient) Analytics(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Analytics", in, opts...)
}
