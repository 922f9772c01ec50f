package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
	"github.com/example/course-platform/services/progress/internal/store"
)

type fakeIdem struct {
	seen     map[string]bool
	released []string
	err      error
}

func newFakeIdem() *fakeIdem { return &fakeIdem{seen: map[string]bool{}} }

func (f *fakeIdem) Check(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeIdem) Release(_ context.Context, key string) error {
	delete(f.seen, key)
	f.released = append(f.released, key)
	return nil
}

// failingRepo fails every ApplyDelta.
type failingRepo struct {
	store.Repository
}

func (failingRepo) ApplyDelta(context.Context, string, string, store.Delta) (store.Result, error) {
	return store.Result{}, status.Error(codes.Internal, "db")
}

func newService() (*ProgressService, *fakeIdem) {
	idem := newFakeIdem()
	return &ProgressService{
		Progress:    store.NewMemoryRepository(10),
		Idempotency: idem,
	}, idem
}

func TestPushDelta_AccumulatesAndCompletes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	resp, err := svc.PushDelta(ctx, &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", TimeDelta: 8})
	require.NoError(t, err)
	assert.Equal(t, "in_progress", resp.Progress.Status)
	assert.False(t, resp.Completed)

	resp, err = svc.PushDelta(ctx, &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", TimeDelta: 2, ScrolledToBottom: true})
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Progress.Status)
	assert.True(t, resp.Completed)
	assert.EqualValues(t, 10, resp.Progress.TimeSpentSec)
	assert.NotZero(t, resp.Progress.CompletedAtMs)
}

func TestPushDelta_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	_, err := svc.PushDelta(ctx, &progressv1.PushDeltaRequest{UserID: "", LectureID: "lecture-1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.PushDelta(ctx, &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "  "})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.PushDelta(ctx, &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", TimeDelta: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPushDelta_CapsOversizedDelta(t *testing.T) {
	svc, _ := newService()
	svc.MaxDeltaSeconds = 60

	resp, err := svc.PushDelta(context.Background(), &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", TimeDelta: 10_000})
	require.NoError(t, err)
	assert.EqualValues(t, 60, resp.Progress.TimeSpentSec)
}

func TestPushDelta_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	req := &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", TimeDelta: 5, IdempotencyKey: "k-1"}

	first, err := svc.PushDelta(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.PushDelta(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.EqualValues(t, 5, second.Progress.TimeSpentSec)

	// same key on another lecture is independent
	other, err := svc.PushDelta(ctx, &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-2", TimeDelta: 5, IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
}

func TestPushDelta_ReleasesKeyOnFailure(t *testing.T) {
	idem := newFakeIdem()
	svc := &ProgressService{Progress: failingRepo{}, Idempotency: idem}

	_, err := svc.PushDelta(context.Background(), &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", TimeDelta: 5, IdempotencyKey: "k-1"})
	require.Error(t, err)
	assert.Equal(t, []string{ScopedKey("learner-1", "lecture-1", "k-1")}, idem.released)
}

func TestPushDelta_IdempotencyStoreDown(t *testing.T) {
	svc, idem := newService()
	idem.err = errors.New("redis down")

	_, err := svc.PushDelta(context.Background(), &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", IdempotencyKey: "k"})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestStartLecture_CreatedOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	resp, err := svc.StartLecture(ctx, &progressv1.StartLectureRequest{UserID: "learner-1", LectureID: "lecture-1"})
	require.NoError(t, err)
	assert.True(t, resp.Created)

	resp, err = svc.StartLecture(ctx, &progressv1.StartLectureRequest{UserID: "learner-1", LectureID: "lecture-1"})
	require.NoError(t, err)
	assert.False(t, resp.Created)
}

func TestGetProgress_NotFound(t *testing.T) {
	svc, _ := newService()
	_, err := svc.GetProgress(context.Background(), &progressv1.GetProgressRequest{UserID: "learner-1", LectureID: "lecture-1"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestListProgress_Cursor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.StartLecture(ctx, &progressv1.StartLectureRequest{UserID: "learner-1", LectureID: id})
		require.NoError(t, err)
	}

	page, err := svc.ListProgress(ctx, &progressv1.ListProgressRequest{UserID: "learner-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].LectureID)
	require.NotEmpty(t, page.NextCursor)

	page, err = svc.ListProgress(ctx, &progressv1.ListProgressRequest{UserID: "learner-1", Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].LectureID)
	assert.Empty(t, page.NextCursor)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	assert.Nil(t, decodeCursor(""))
	assert.Nil(t, decodeCursor("!!!"))
	assert.Nil(t, decodeCursor(encodeCursor(1, "")))

	c := decodeCursor(encodeCursor(1700000000000, "lecture:with:colons"))
	require.NotNil(t, c)
	assert.Equal(t, "lecture:with:colons", c.LectureID)
}

func TestProgressService_OverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	svc, _ := newService()
	progressv1.RegisterProgressServiceServer(srv, svc)
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

	client := progressv1.NewProgressServiceClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.StartLecture(ctx, &progressv1.StartLectureRequest{UserID: "learner-1", LectureID: "lecture-1"})
	require.NoError(t, err)

	resp, err := client.PushDelta(ctx, &progressv1.PushDeltaRequest{UserID: "learner-1", LectureID: "lecture-1", TimeDelta: 12, ScrolledToBottom: true})
	require.NoError(t, err)
	assert.True(t, resp.Completed)
	assert.Equal(t, "completed", resp.Progress.Status)

	_, err = client.GetProgress(ctx, &progressv1.GetProgressRequest{UserID: "learner-1", LectureID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
