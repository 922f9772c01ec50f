package handlers

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/course-platform/internal/platform/api"
)

func writeGRPCError(w http.ResponseWriter, requestID string, err error) {
	st, ok := status.FromError(err)
	if !ok {
		api.Internal(w, requestID)
		return
	}

	switch st.Code() {
	case codes.InvalidArgument:
		api.BadRequest(w, api.CodeValidation, st.Message(), requestID, nil)
	case codes.Unauthenticated:
		api.Unauthorized(w, api.CodeUnauthorized, st.Message(), requestID)
	case codes.PermissionDenied:
		api.Forbidden(w, api.CodeForbidden, st.Message(), requestID)
	case codes.NotFound:
		api.NotFound(w, api.CodeNotFound, st.Message(), requestID)
	case codes.AlreadyExists, codes.Aborted:
		api.Conflict(w, api.CodeIdempotencyBusy, st.Message(), requestID, nil)
	case codes.Unavailable:
		api.Unavailable(w, st.Message(), requestID)
	default:
		api.Internal(w, requestID)
	}
}
