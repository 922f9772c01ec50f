package progressv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "course.progress.v1.ProgressService"

	ProgressService_StartLecture_FullMethodName = "/" + ServiceName + "/StartLecture"
	ProgressService_PushDelta_FullMethodName    = "/" + ServiceName + "/PushDelta"
	ProgressService_GetProgress_FullMethodName  = "/" + ServiceName + "/GetProgress"
	ProgressService_ListProgress_FullMethodName = "/" + ServiceName + "/ListProgress"

	// RequestIDKey is the metadata key carrying the caller's request id.
	RequestIDKey = "x-request-id"
)

type ProgressServiceClient interface {
	StartLecture(ctx context.Context, in *StartLectureRequest, opts ...grpc.CallOption) (*StartLectureResponse, error)
	PushDelta(ctx context.Context, in *PushDeltaRequest, opts ...grpc.CallOption) (*PushDeltaResponse, error)
	GetProgress(ctx context.Context, in *GetProgressRequest, opts ...grpc.CallOption) (*GetProgressResponse, error)
	ListProgress(ctx context.Context, in *ListProgressRequest, opts ...grpc.CallOption) (*ListProgressResponse, error)
}

type progressServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewProgressServiceClient(cc grpc.ClientConnInterface) ProgressServiceClient {
	return &progressServiceClient{cc}
}

func (c *progressServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *progressServiceClient) StartLecture(ctx context.Context, in *StartLectureRequest, opts ...grpc.CallOption) (*StartLectureResponse, error) {
	out := new(StartLectureResponse)
	if err := c.invoke(ctx, ProgressService_StartLecture_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) PushDelta(ctx context.Context, in *PushDeltaRequest, opts ...grpc.CallOption) (*PushDeltaResponse, error) {
	out := new(PushDeltaResponse)
	if err := c.invoke(ctx, ProgressService_PushDelta_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) GetProgress(ctx context.Context, in *GetProgressRequest, opts ...grpc.CallOption) (*GetProgressResponse, error) {
	out := new(GetProgressResponse)
	if err := c.invoke(ctx, ProgressService_GetProgress_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *progressServiceClient) ListProgress(ctx context.Context, in *ListProgressRequest, opts ...grpc.CallOption) (*ListProgressResponse, error) {
	out := new(ListProgressResponse)
	if err := c.invoke(ctx, ProgressService_ListProgress_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// ProgressServiceServer is the server API for ProgressService.
// Implementations must embed UnimplementedProgressServiceServer.
type ProgressServiceServer interface {
	StartLecture(context.Context, *StartLectureRequest) (*StartLectureResponse, error)
	PushDelta(context.Context, *PushDeltaRequest) (*PushDeltaResponse, error)
	GetProgress(context.Context, *GetProgressRequest) (*GetProgressResponse, error)
	ListProgress(context.Context, *ListProgressRequest) (*ListProgressResponse, error)
	mustEmbedUnimplementedProgressServiceServer()
}

type UnimplementedProgressServiceServer struct{}

func (UnimplementedProgressServiceServer) StartLecture(context.Context, *StartLectureRequest) (*StartLectureResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StartLecture not implemented")
}
func (UnimplementedProgressServiceServer) PushDelta(context.Context, *PushDeltaRequest) (*PushDeltaResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PushDelta not implemented")
}
func (UnimplementedProgressServiceServer) GetProgress(context.Context, *GetProgressRequest) (*GetProgressResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetProgress not implemented")
}
func (UnimplementedProgressServiceServer) ListProgress(context.Context, *ListProgressRequest) (*ListProgressResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListProgress not implemented")
}
func (UnimplementedProgressServiceServer) mustEmbedUnimplementedProgressServiceServer() {}

func RegisterProgressServiceServer(s grpc.ServiceRegistrar, srv ProgressServiceServer) {
	s.RegisterService(&ProgressService_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(ProgressServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ProgressServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ProgressServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ProgressService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProgressServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StartLecture",
			Handler:    unaryHandler(ProgressService_StartLecture_FullMethodName, ProgressServiceServer.StartLecture),
		},
		{
			MethodName: "PushDelta",
			Handler:    unaryHandler(ProgressService_PushDelta_FullMethodName, ProgressServiceServer.PushDelta),
		},
		{
			MethodName: "GetProgress",
			Handler:    unaryHandler(ProgressService_GetProgress_FullMethodName, ProgressServiceServer.GetProgress),
		},
		{
			MethodName: "ListProgress",
			Handler:    unaryHandler(ProgressService_ListProgress_FullMethodName, ProgressServiceServer.ListProgress),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "course/progress/v1/progress.proto",
}
