package api

import (
	"errors"

	"github.com/matheus3301/wallchat/internal/chat"
	"github.com/matheus3301/wallchat/internal/neterr"
	"github.com/matheus3301/wallchat/internal/poll"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var kindCodes = map[neterr.Kind]codes.Code{
	neterr.Unknown:       codes.Unknown,
	neterr.Unauthorized:  codes.Unauthenticated,
	neterr.Forbidden:     codes.PermissionDenied,
	neterr.NotFound:      codes.NotFound,
	neterr.Conflict:      codes.AlreadyExists,
	neterr.ClientError:   codes.FailedPrecondition,
	neterr.Timeout:       codes.DeadlineExceeded,
	neterr.NoConnection:  codes.Unavailable,
	neterr.ServerError:   codes.Unavailable,
	neterr.Cancelled:     codes.Canceled,
	neterr.InvalidURL:    codes.FailedPrecondition,
	neterr.DecodingError: codes.Internal,
}

// toStatus converts a domain error into a gRPC status error. The neterr kind
// travels as the message prefix so clients can show it.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, poll.ErrNotAuthenticated):
		return grpcstatus.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case errors.Is(err, poll.ErrVoteInFlight):
		return grpcstatus.Errorf(codes.Aborted, "%s: %v", op, err)
	}
	code, ok := kindCodes[neterr.KindOf(err)]
	if !ok {
		code = codes.Unknown
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
