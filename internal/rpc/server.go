package rpc

import (
	"context"

	"github.com/gowvp/forensight/internal/core/vision"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DetectorServer 检测服务端接口
type DetectorServer interface {
	Detect(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDetectorServer 注册到 grpc.Server
func RegisterDetectorServer(s grpc.ServiceRegistrar, srv DetectorServer) {
	s.RegisterService(&detectorServiceDesc, srv)
}

var detectorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forensight/v1/detector.proto",
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectorServer).Detect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// FrameDetector 本地检测器，可通过 NewDetectorServer 对外提供服务
type FrameDetector interface {
	Detect(ctx context.Context, f *vision.Frame) ([]vision.Detection, error)
}

type detectorServer struct {
	d FrameDetector
}

// NewDetectorServer 将本地检测器包装为 gRPC 服务
func NewDetectorServer(d FrameDetector) DetectorServer {
	return detectorServer{d: d}
}

func (s detectorServer) Detect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, f, err := DecodeFrame(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	dets, err := s.d.Detect(ctx, f)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return EncodeDetections(dets)
}
