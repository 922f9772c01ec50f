package grpcapi

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/course-platform/internal/platform/httpserver"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
)

// RequestLogger adopts the caller's x-request-id (or mints one) and logs
// every unary call with its status code.
func RequestLogger(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rid := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(progressv1.RequestIDKey); len(v) > 0 {
				rid = v[0]
			}
		}
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx = httpserver.WithRequestID(ctx, rid)

		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("request_id", rid),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch status.Code(err) {
		case codes.Unknown, codes.Internal, codes.Unavailable, codes.DataLoss:
			log.Error("grpc call failed", append(fields, zap.Error(err))...)
		default:
			log.Debug("grpc call", fields...)
		}
		return resp, err
	}
}
