package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "corrscan.v1.Correlator"

const (
	analyzeMethod      = "/" + ServiceName + "/Analyze"
	listPairsMethod    = "/" + ServiceName + "/ListPairs"
	listDatasetsMethod = "/" + ServiceName + "/ListDatasets"
)

// CorrelatorServer is the server API for the Correlator service.
type CorrelatorServer interface {
	Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error)
	ListPairs(context.Context, *ListPairsRequest) (*ListPairsResponse, error)
	ListDatasets(context.Context, *ListDatasetsRequest) (*ListDatasetsResponse, error)
}

// UnimplementedCorrelatorServer can be embedded to satisfy CorrelatorServer.
type UnimplementedCorrelatorServer struct{}

func (UnimplementedCorrelatorServer) Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Analyze not implemented")
}

func (UnimplementedCorrelatorServer) ListPairs(context.Context, *ListPairsRequest) (*ListPairsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListPairs not implemented")
}

func (UnimplementedCorrelatorServer) ListDatasets(context.Context, *ListDatasetsRequest) (*ListDatasetsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDatasets not implemented")
}

// RegisterCorrelatorServer attaches srv to s.
func RegisterCorrelatorServer(s grpc.ServiceRegistrar, srv CorrelatorServer) {
	s.RegisterService(&CorrelatorServiceDesc, srv)
}

// CorrelatorServiceDesc describes the Correlator service for grpc.Server.
var CorrelatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CorrelatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
		{MethodName: "ListPairs", Handler: listPairsHandler},
		{MethodName: "ListDatasets", Handler: listDatasetsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "corrscan/v1/correlator",
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AnalyzeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CorrelatorServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: analyzeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CorrelatorServer).Analyze(ctx, req.(*AnalyzeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listPairsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListPairsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CorrelatorServer).ListPairs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listPairsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CorrelatorServer).ListPairs(ctx, req.(*ListPairsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listDatasetsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListDatasetsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CorrelatorServer).ListDatasets(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listDatasetsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CorrelatorServer).ListDatasets(ctx, req.(*ListDatasetsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CorrelatorClient calls the Correlator service using the JSON codec.
type CorrelatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCorrelatorClient wraps a client connection.
func NewCorrelatorClient(cc grpc.ClientConnInterface) *CorrelatorClient {
	return &CorrelatorClient{cc: cc}
}

// Analyze runs an analysis on the server.
func (c *CorrelatorClient) Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*AnalyzeResponse, error) {
	out := new(AnalyzeResponse)
	if err := c.cc.Invoke(ctx, analyzeMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPairs enumerates pairs on the server.
func (c *CorrelatorClient) ListPairs(ctx context.Context, in *ListPairsRequest, opts ...grpc.CallOption) (*ListPairsResponse, error) {
	out := new(ListPairsResponse)
	if err := c.cc.Invoke(ctx, listPairsMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDatasets lists registered datasets on the server.
func (c *CorrelatorClient) ListDatasets(ctx context.Context, in *ListDatasetsRequest, opts ...grpc.CallOption) (*ListDatasetsResponse, error) {
	out := new(ListDatasetsResponse)
	if err := c.cc.Invoke(ctx, listDatasetsMethod, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
