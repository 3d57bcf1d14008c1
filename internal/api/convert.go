package api

import (
	"github.com/matheus3301/wallchat/internal/chat"
	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/rest"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func messageFields(m messages.Message) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"sender_id":    m.SenderID,
		"receiver_id":  m.ReceiverID,
		"content":      m.Content,
		"read":         m.ReadStatus,
		"created_at":   m.CreatedAt,
		"local_status": string(m.LocalStatus),
	}
}

func messageList(msgs []messages.Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageFields(m))
	}
	return out
}

func conversationFields(c chat.Conversation) map[string]any {
	f := map[string]any{
		"user_id":      c.UserID,
		"profile_name": c.ProfileName,
		"unread_count": c.UnreadCount,
	}
	if c.LastMessage != nil {
		f["last_message"] = messageFields(*c.LastMessage)
	}
	return f
}

func pollFields(p *rest.Poll) map[string]any {
	if p == nil {
		return nil
	}
	opts := make([]any, 0, len(p.Options))
	for _, o := range p.Options {
		of := map[string]any{
			"id":            o.ID.String(),
			"option_text":   o.OptionText,
			"display_order": o.DisplayOrder,
		}
		if o.VoteCount != nil {
			of["vote_count"] = *o.VoteCount
		}
		if o.Percentage != nil {
			of["percentage"] = *o.Percentage
		}
		opts = append(opts, of)
	}
	f := map[string]any{
		"options":         opts,
		"total_votes":     p.TotalVotes,
		"results_visible": p.ResultsVisible,
	}
	if p.UserVotedOptionID != nil {
		f["user_voted_option_id"] = p.UserVotedOptionID.String()
	}
	return f
}

// newStruct wraps structpb.NewStruct, reporting unsupported values as an
// internal error.
func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func intField(s *structpb.Struct, key string) int {
	return int(s.GetFields()[key].GetNumberValue())
}

func requireString(s *structpb.Struct, key string) (string, error) {
	v := stringField(s, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}
