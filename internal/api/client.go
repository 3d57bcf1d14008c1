package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return conn, nil
}

// ControlClient calls the control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps cc.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) call(ctx context.Context, method string, fields map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *ControlClient) Status(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, MethodStatus, nil)
}

func (c *ControlClient) Conversations(ctx context.Context, limit int) (map[string]any, error) {
	return c.call(ctx, MethodConversations, map[string]any{"limit": limit})
}

// Messages fetches a conversation. page 0 skips the history fetch; focus nil
// leaves the active conversation unchanged.
func (c *ControlClient) Messages(ctx context.Context, userID string, page int, focus *bool) (map[string]any, error) {
	req := map[string]any{"user_id": userID, "page": page}
	if focus != nil {
		req["focus"] = *focus
	}
	return c.call(ctx, MethodMessages, req)
}

func (c *ControlClient) MarkRead(ctx context.Context, userID string) (map[string]any, error) {
	return c.call(ctx, MethodMarkRead, map[string]any{"user_id": userID})
}

func (c *ControlClient) Send(ctx context.Context, receiverID, content string) (map[string]any, error) {
	return c.call(ctx, MethodSend, map[string]any{"receiver_id": receiverID, "content": content})
}

func (c *ControlClient) Poll(ctx context.Context, postID string, refresh bool) (map[string]any, error) {
	return c.call(ctx, MethodPoll, map[string]any{"post_id": postID, "refresh": refresh})
}

func (c *ControlClient) Vote(ctx context.Context, postID, optionID string) (map[string]any, error) {
	return c.call(ctx, MethodVote, map[string]any{"post_id": postID, "option_id": optionID})
}

// Clear forgets the cached conversation with userID, or every conversation
// when userID is empty.
func (c *ControlClient) Clear(ctx context.Context, userID string) (map[string]any, error) {
	if userID == "" {
		return c.call(ctx, MethodClear, map[string]any{"all": true})
	}
	return c.call(ctx, MethodClear, map[string]any{"user_id": userID})
}

// Watch opens the event stream. Each call to recv blocks for the next event.
func (c *ControlClient) Watch(ctx context.Context) (recv func() (map[string]any, error), err error) {
	desc := &controlServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, MethodWatch)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return func() (map[string]any, error) {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			return nil, err
		}
		return out.AsMap(), nil
	}, nil
}
