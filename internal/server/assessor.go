package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "backupsentry.v1.Assessor"

const (
	methodAssess      = "/" + ServiceName + "/Assess"
	methodScanPath    = "/" + ServiceName + "/ScanPath"
	methodHoneyStatus = "/" + ServiceName + "/HoneyStatus"
)

// AssessorServer is the server side of the Assessor service. Requests and
// responses are google.protobuf.Struct documents.
type AssessorServer interface {
	Assess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScanPath(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HoneyStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAssessorServer registers srv on s.
func RegisterAssessorServer(s grpc.ServiceRegistrar, srv AssessorServer) {
	s.RegisterService(&assessorDesc, srv)
}

var assessorDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssessorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Assess", Handler: unary(methodAssess, AssessorServer.Assess)},
		{MethodName: "ScanPath", Handler: unary(methodScanPath, AssessorServer.ScanPath)},
		{MethodName: "HoneyStatus", Handler: unary(methodHoneyStatus, AssessorServer.HoneyStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backupsentry/v1/assessor.proto",
}

type rpc func(AssessorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call rpc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AssessorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AssessorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls a remote Assessor.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Assess scores one signal document.
func (c *Client) Assess(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodAssess, in, opts)
}

// ScanPath scans a directory on the server host.
func (c *Client) ScanPath(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodScanPath, in, opts)
}

// HoneyStatus lists the live honey sets.
func (c *Client) HoneyStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodHoneyStatus, in, opts)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ToStruct converts any JSON-serializable value into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}
