package progressclient

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/example/course-platform/internal/engagement"
	"github.com/example/course-platform/internal/platform/httpserver"
	progressv1 "github.com/example/course-platform/internal/rpc/progressv1"
)

// DialGRPC opens a connection to the progress service.
func DialGRPC(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// GRPCClient is bound to one learner; each tracking session of that learner
// shares it.
type GRPCClient struct {
	Client progressv1.ProgressServiceClient
	UserID string
}

func NewGRPC(client progressv1.ProgressServiceClient, userID string) *GRPCClient {
	return &GRPCClient{Client: client, UserID: userID}
}

func (c *GRPCClient) StartSession(ctx context.Context, lectureID string) error {
	_, err := c.Client.StartLecture(outgoing(ctx), &progressv1.StartLectureRequest{UserID: c.UserID, LectureID: lectureID})
	return err
}

func (c *GRPCClient) PushDelta(ctx context.Context, lectureID string, d engagement.Delta) (engagement.PushResult, error) {
	resp, err := c.Client.PushDelta(outgoing(ctx), &progressv1.PushDeltaRequest{
		UserID:           c.UserID,
		LectureID:        lectureID,
		TimeDelta:        int64(d.TimeDelta),
		ScrolledToBottom: d.ScrolledToBottom,
		IdempotencyKey:   uuid.NewString(),
	})
	if err != nil {
		return engagement.PushResult{}, err
	}
	p := resp.GetProgress()
	if p == nil {
		return engagement.PushResult{Success: true}, nil
	}
	return engagement.PushResult{
		Success: true,
		Data: &engagement.ProgressData{
			Status:           engagement.Status(p.Status),
			TimeSpentSec:     int(p.TimeSpentSec),
			ScrolledToBottom: p.ScrolledToBottom,
		},
	}, nil
}

func outgoing(ctx context.Context) context.Context {
	rid := httpserver.RequestIDFromContext(ctx)
	if rid == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, progressv1.RequestIDKey, rid)
}
