package progressclient

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/course-platform/internal/engagement"
	"github.com/example/course-platform/internal/platform/httpserver"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
)

type stubServer struct {
	progressv1.UnimplementedProgressServiceServer
	mu     sync.Mutex
	starts []*progressv1.StartLectureRequest
	pushes []*progressv1.PushDeltaRequest
	err    error
}

func (s *stubServer) StartLecture(_ context.Context, req *progressv1.StartLectureRequest) (*progressv1.StartLectureResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, req)
	return &progressv1.StartLectureResponse{Created: true}, nil
}

func (s *stubServer) PushDelta(_ context.Context, req *progressv1.PushDeltaRequest) (*progressv1.PushDeltaResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.pushes = append(s.pushes, req)
	return &progressv1.PushDeltaResponse{Progress: &progressv1.LectureProgress{
		UserID:           req.UserID,
		LectureID:        req.LectureID,
		Status:           "in_progress",
		TimeSpentSec:     req.TimeDelta,
		ScrolledToBottom: req.ScrolledToBottom,
	}}, nil
}

func dialStub(t *testing.T, stub *stubServer) progressv1.ProgressServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	progressv1.RegisterProgressServiceServer(srv, stub)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return progressv1.NewProgressServiceClient(conn)
}

func TestGRPCClient_PushDelta(t *testing.T) {
	stub := &stubServer{}
	c := NewGRPC(dialStub(t, stub), "learner-1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.StartSession(ctx, "lecture-1"))
	res, err := c.PushDelta(ctx, "lecture-1", engagement.Delta{TimeDelta: 7, ScrolledToBottom: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.Data)
	assert.Equal(t, engagement.StatusInProgress, res.Data.Status)
	assert.Equal(t, 7, res.Data.TimeSpentSec)

	_, err = c.PushDelta(ctx, "lecture-1", engagement.Delta{TimeDelta: 1})
	require.NoError(t, err)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.starts, 1)
	assert.Equal(t, "learner-1", stub.starts[0].UserID)
	require.Len(t, stub.pushes, 2)
	assert.Equal(t, "learner-1", stub.pushes[0].UserID)
	assert.NotEmpty(t, stub.pushes[0].IdempotencyKey)
	assert.NotEqual(t, stub.pushes[0].IdempotencyKey, stub.pushes[1].IdempotencyKey)
}

func TestGRPCClient_Error(t *testing.T) {
	stub := &stubServer{err: status.Error(codes.Unavailable, "db")}
	c := NewGRPC(dialStub(t, stub), "learner-1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.PushDelta(ctx, "lecture-1", engagement.Delta{TimeDelta: 1})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestOutgoing_ForwardsRequestID(t *testing.T) {
	ctx := outgoing(context.Background())
	_, ok := metadata.FromOutgoingContext(ctx)
	assert.False(t, ok)

	ctx = outgoing(httpserver.WithRequestID(context.Background(), "req-7"))
	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"req-7"}, md.Get(progressv1.RequestIDKey))
}
