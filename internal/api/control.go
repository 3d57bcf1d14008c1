package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/chat"
	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/poll"
	"github.com/matheus3301/wallchat/internal/prefs"
	"github.com/matheus3301/wallchat/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Chat is the repository surface served over the control API.
// *chat.Repository implements it.
type Chat interface {
	Conversations() []chat.Conversation
	Messages(userID string) []messages.Message
	LoadHistory(ctx context.Context, userID string, page int) (int, error)
	MarkConversationAsRead(ctx context.Context, userID string) error
	SendMessage(ctx context.Context, receiverID, content string) (messages.Message, error)
	SetActiveConversation(userID string)
	SetViewActive(active bool)
	TotalUnread() int
	ClearConversation(userID string) error
	ClearAll() error
}

// PrefActiveConversation remembers the last focused conversation across
// restarts.
const PrefActiveConversation = "chat.active_conversation"

// ControlService implements ControlServer.
type ControlService struct {
	account   string
	startedAt time.Time
	chat      Chat
	machine   *status.Machine
	polls     *poll.Registry
	auth      poll.Auth
	prefs     *prefs.Store
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewControlService creates the control service for account. polls, auth and
// p may be nil.
func NewControlService(account string, c Chat, machine *status.Machine, polls *poll.Registry, auth poll.Auth, p *prefs.Store, b *bus.Bus, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		p = prefs.New(nil)
	}
	return &ControlService{
		account:   account,
		startedAt: time.Now(),
		chat:      c,
		machine:   machine,
		polls:     polls,
		auth:      auth,
		prefs:     p,
		bus:       b,
		logger:    logger,
	}
}

func (s *ControlService) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	state := status.Disconnected
	errText := ""
	if s.machine != nil {
		state = s.machine.Current()
		if err := s.machine.Err(); err != nil {
			errText = err.Error()
		}
	}
	polls := 0
	if s.polls != nil {
		polls = s.polls.Len()
	}
	preferences := make(map[string]any)
	for k, v := range s.prefs.Snapshot() {
		preferences[k] = v
	}
	return newStruct(map[string]any{
		"account":       s.account,
		"preferences":   preferences,
		"state":         string(state),
		"error":         errText,
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"unread_total":  s.chat.TotalUnread(),
		"conversations": len(s.chat.Conversations()),
		"polls":         polls,
	})
}

// Conversations lists conversations, most recent first. "limit" caps the list.
func (s *ControlService) Conversations(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convs := s.chat.Conversations()
	if limit := intField(req, "limit"); limit > 0 && limit < len(convs) {
		convs = convs[:limit]
	}
	list := make([]any, 0, len(convs))
	for _, c := range convs {
		list = append(list, conversationFields(c))
	}
	return newStruct(map[string]any{
		"conversations": list,
		"unread_total":  s.chat.TotalUnread(),
	})
}

// Messages returns the cached conversation with "user_id". A positive "page"
// loads that history page first. "focus" marks the conversation as the one on
// screen so that incoming messages from that user are read on arrival.
func (s *ControlService) Messages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireString(req, "user_id")
	if err != nil {
		return nil, err
	}
	if focus, ok := req.GetFields()["focus"]; ok {
		if focus.GetBoolValue() {
			s.chat.SetActiveConversation(userID)
			s.chat.SetViewActive(true)
			s.prefs.SetString(PrefActiveConversation, userID)
		} else {
			s.chat.SetViewActive(false)
			s.chat.SetActiveConversation("")
			s.prefs.Remove(PrefActiveConversation)
		}
	}
	added := 0
	if page := intField(req, "page"); page > 0 {
		added, err = s.chat.LoadHistory(ctx, userID, page)
		if err != nil {
			return nil, toStatus("load history", err)
		}
	}
	return newStruct(map[string]any{
		"user_id":  userID,
		"messages": messageList(s.chat.Messages(userID)),
		"added":    added,
	})
}

func (s *ControlService) MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireString(req, "user_id")
	if err != nil {
		return nil, err
	}
	if err := s.chat.MarkConversationAsRead(ctx, userID); err != nil {
		return nil, toStatus("mark read", err)
	}
	return newStruct(map[string]any{"unread_total": s.chat.TotalUnread()})
}

func (s *ControlService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	receiverID, err := requireString(req, "receiver_id")
	if err != nil {
		return nil, err
	}
	msg, err := s.chat.SendMessage(ctx, receiverID, stringField(req, "content"))
	if err != nil {
		return nil, toStatus("send", err)
	}
	return newStruct(map[string]any{"message": messageFields(msg)})
}

// Poll returns the local state of "post_id", fetching results when nothing is
// known yet or "refresh" is set.
func (s *ControlService) Poll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	postID, err := requireString(req, "post_id")
	if err != nil {
		return nil, err
	}
	if s.polls == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "polls not configured")
	}
	model := s.polls.Get(postID)
	if model.Poll() == nil || req.GetFields()["refresh"].GetBoolValue() {
		if err := model.LoadResults(ctx); err != nil {
			return nil, toStatus("load poll", err)
		}
	}
	return pollResponse(postID, model)
}

func (s *ControlService) Vote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	postID, err := requireString(req, "post_id")
	if err != nil {
		return nil, err
	}
	raw, err := requireString(req, "option_id")
	if err != nil {
		return nil, err
	}
	optionID, err := uuid.Parse(raw)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "option_id: %v", err)
	}
	if s.polls == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "polls not configured")
	}
	model := s.polls.Get(postID)
	if err := model.Vote(ctx, optionID, s.auth); err != nil {
		return nil, toStatus("vote", err)
	}
	return pollResponse(postID, model)
}

// Clear drops cached state: the conversation "user_id", or everything when
// "all" is set, as on logout. Preferences other than the focused
// conversation are kept.
func (s *ControlService) Clear(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := stringField(req, "user_id")
	all := req.GetFields()["all"].GetBoolValue()
	switch {
	case userID != "" && all:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "user_id and all are exclusive")
	case all:
		s.chat.SetViewActive(false)
		s.chat.SetActiveConversation("")
		s.prefs.Remove(PrefActiveConversation)
		if err := s.chat.ClearAll(); err != nil {
			return nil, toStatus("clear", err)
		}
	case userID != "":
		if s.prefs.String(PrefActiveConversation) == userID {
			s.chat.SetViewActive(false)
			s.chat.SetActiveConversation("")
			s.prefs.Remove(PrefActiveConversation)
		}
		if err := s.chat.ClearConversation(userID); err != nil {
			return nil, toStatus("clear", err)
		}
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "user_id or all is required")
	}
	s.logger.Info("cache cleared", zap.String("user_id", userID), zap.Bool("all", all))
	return newStruct(map[string]any{
		"conversations": len(s.chat.Conversations()),
		"unread_total":  s.chat.TotalUnread(),
	})
}

func pollResponse(postID string, m *poll.Model) (*structpb.Struct, error) {
	f := map[string]any{
		"post_id":       postID,
		"is_voting":     m.IsVoting(),
		"error_message": m.ErrorMessage(),
	}
	if p := m.Poll(); p != nil {
		f["poll"] = pollFields(p)
	}
	return newStruct(f)
}

// Watch streams chat and connection events until the client goes away.
func (s *ControlService) Watch(_ *structpb.Struct, stream grpc.ServerStream) error {
	chatCh, unsubChat := s.bus.Subscribe("chat.", 64)
	defer unsubChat()
	connCh, unsubConn := s.bus.Subscribe("conn.", 16)
	defer unsubConn()
	s.logger.Debug("watch stream opened")
	defer s.logger.Debug("watch stream closed")

	for {
		var evt bus.Event
		select {
		case evt = <-chatCh:
		case evt = <-connCh:
		case <-stream.Context().Done():
			return nil
		}
		out, err := newStruct(map[string]any{
			"event_id":            uuid.NewString(),
			"kind":                evt.Kind,
			"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
			"payload":             eventPayload(evt),
		})
		if err != nil {
			return err
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
}

func eventPayload(evt bus.Event) map[string]any {
	switch p := evt.Payload.(type) {
	case chat.MessageAdded:
		f := map[string]any{"conversation_id": p.ConversationID, "message": messageFields(p.Message)}
		if p.Replaces != "" {
			f["replaces"] = p.Replaces
		}
		return f
	case chat.Conversation:
		return conversationFields(p)
	case chat.SendFailure:
		return map[string]any{
			"temporary_id": p.TemporaryID,
			"receiver_id":  p.ReceiverID,
			"content":      p.Content,
			"error":        errString(p.Err),
		}
	case chat.Typing:
		return map[string]any{"user_id": p.UserID}
	case chat.Cleared:
		return map[string]any{"user_id": p.UserID}
	case status.StatusChange:
		return map[string]any{"from": string(p.From), "to": string(p.To), "error": errString(p.Err)}
	}
	return map[string]any{}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
