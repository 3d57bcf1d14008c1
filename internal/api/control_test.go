package api

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/chat"
	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/neterr"
	"github.com/matheus3301/wallchat/internal/poll"
	"github.com/matheus3301/wallchat/internal/prefs"
	"github.com/matheus3301/wallchat/internal/rest"
	"github.com/matheus3301/wallchat/internal/retry"
	"github.com/matheus3301/wallchat/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fakeChat struct {
	mu      sync.Mutex
	convs   []chat.Conversation
	msgs    map[string][]messages.Message
	sent    []string
	read    []string
	pages   []int
	active  string
	viewOn  bool
	unread  int
	cleared []string
	sendErr error
	loadErr error
	markErr error
}

func (f *fakeChat) Conversations() []chat.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs
}

func (f *fakeChat) ClearConversation(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, userID)
	f.convs = slices.DeleteFunc(f.convs, func(c chat.Conversation) bool { return c.UserID == userID })
	return nil
}

func (f *fakeChat) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, "*")
	f.convs = nil
	f.unread = 0
	return nil
}

func (f *fakeChat) Messages(userID string) []messages.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[userID]
}

func (f *fakeChat) LoadHistory(_ context.Context, _ string, page int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page)
	return 2, f.loadErr
}

func (f *fakeChat) MarkConversationAsRead(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, userID)
	f.unread = 0
	return f.markErr
}

func (f *fakeChat) SendMessage(_ context.Context, receiverID, content string) (messages.Message, error) {
	if content == "" {
		return messages.Message{}, chat.ErrEmptyMessage
	}
	if f.sendErr != nil {
		return messages.Message{}, f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, content)
	f.mu.Unlock()
	return messages.Message{ID: "m-1", SenderID: "me", ReceiverID: receiverID, Content: content, LocalStatus: messages.StatusSent}, nil
}

func (f *fakeChat) SetActiveConversation(userID string) {
	f.mu.Lock()
	f.active = userID
	f.mu.Unlock()
}

func (f *fakeChat) SetViewActive(active bool) {
	f.mu.Lock()
	f.viewOn = active
	f.mu.Unlock()
}

func (f *fakeChat) TotalUnread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

type fakePolls struct {
	vote    func() (*rest.Poll, error)
	results func() (*rest.Poll, error)
}

func (f *fakePolls) VotePoll(context.Context, string, uuid.UUID) (*rest.Poll, error) {
	return f.vote()
}

func (f *fakePolls) GetPollResults(context.Context, string) (*rest.Poll, error) {
	return f.results()
}

type authFlag bool

func (a authFlag) IsAuthenticated() bool { return bool(a) }

type harness struct {
	chat    *fakeChat
	bus     *bus.Bus
	machine *status.Machine
	prefs   *prefs.Store
	client  *ControlClient
}

func newHarness(t *testing.T, polls *fakePolls, auth poll.Auth) *harness {
	t.Helper()
	// Short path to stay under the unix socket length limit.
	dir, err := os.MkdirTemp("/tmp", "wc-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "d.sock")

	h := &harness{
		chat: &fakeChat{msgs: map[string][]messages.Message{
			"alice": {{ID: "1", SenderID: "alice", ReceiverID: "me", Content: "hi", CreatedAt: "2024-01-01T10:00:00Z"}},
		}},
		bus: bus.New(),
	}
	h.machine = status.NewMachine(h.bus)
	var registry *poll.Registry
	if polls != nil {
		registry = poll.NewRegistry(polls, retry.None, zap.NewNop())
	}
	h.prefs = prefs.New(nil)
	svc := NewControlService("test", h.chat, h.machine, registry, auth, h.prefs, h.bus, zap.NewNop())

	srv := grpc.NewServer()
	RegisterControlServer(srv, svc)
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	h.client = NewControlClient(conn)
	return h
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if got := grpcstatus.Code(err); got != code {
		t.Errorf("code = %v (err %v), want %v", got, err, code)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.chat.unread = 3
	h.chat.convs = []chat.Conversation{{UserID: "alice"}}

	resp, err := h.client.Status(ctxT(t))
	if err != nil {
		t.Fatal(err)
	}
	if resp["account"] != "test" {
		t.Errorf("account = %v", resp["account"])
	}
	if resp["state"] != string(status.Disconnected) {
		t.Errorf("state = %v, want DISCONNECTED", resp["state"])
	}
	if resp["unread_total"] != float64(3) || resp["conversations"] != float64(1) {
		t.Errorf("resp = %v", resp)
	}
}

func TestConversationsLimit(t *testing.T) {
	h := newHarness(t, nil, nil)
	last := messages.Message{ID: "9", SenderID: "bob", Content: "yo", CreatedAt: "2024-01-02T00:00:00Z"}
	h.chat.convs = []chat.Conversation{
		{UserID: "bob", LastMessage: &last, UnreadCount: 1},
		{UserID: "alice"},
	}

	resp, err := h.client.Conversations(ctxT(t), 1)
	if err != nil {
		t.Fatal(err)
	}
	list := resp["conversations"].([]any)
	if len(list) != 1 {
		t.Fatalf("got %d conversations, want 1", len(list))
	}
	first := list[0].(map[string]any)
	if first["user_id"] != "bob" || first["unread_count"] != float64(1) {
		t.Errorf("first = %v", first)
	}
	if lm := first["last_message"].(map[string]any); lm["content"] != "yo" {
		t.Errorf("last_message = %v", lm)
	}
}

func TestMessagesLoadsPageAndFocuses(t *testing.T) {
	h := newHarness(t, nil, nil)
	focus := true
	resp, err := h.client.Messages(ctxT(t), "alice", 2, &focus)
	if err != nil {
		t.Fatal(err)
	}
	if msgs := resp["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v", msgs)
	}
	if resp["added"] != float64(2) {
		t.Errorf("added = %v, want 2", resp["added"])
	}
	if len(h.chat.pages) != 1 || h.chat.pages[0] != 2 {
		t.Errorf("pages loaded = %v, want [2]", h.chat.pages)
	}
	if h.chat.active != "alice" || !h.chat.viewOn {
		t.Errorf("active = %q view = %v, want alice/true", h.chat.active, h.chat.viewOn)
	}
	if got := h.prefs.String(PrefActiveConversation); got != "alice" {
		t.Errorf("remembered conversation = %q, want alice", got)
	}

	resp, err = h.client.Status(ctxT(t))
	if err != nil {
		t.Fatal(err)
	}
	if p := resp["preferences"].(map[string]any); p[PrefActiveConversation] != "alice" {
		t.Errorf("status preferences = %v", p)
	}

	off := false
	if _, err := h.client.Messages(ctxT(t), "alice", 0, &off); err != nil {
		t.Fatal(err)
	}
	if h.chat.active != "" || h.chat.viewOn {
		t.Errorf("unfocus left active = %q view = %v", h.chat.active, h.chat.viewOn)
	}
	if got := h.prefs.String(PrefActiveConversation); got != "" {
		t.Errorf("remembered conversation = %q after unfocus", got)
	}
}

func TestMessagesRequiresUser(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.client.Messages(ctxT(t), "", 0, nil)
	wantCode(t, err, codes.InvalidArgument)
}

func TestMessagesHistoryError(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.chat.loadErr = neterr.New(neterr.NoConnection, errors.New("down"))
	_, err := h.client.Messages(ctxT(t), "alice", 1, nil)
	wantCode(t, err, codes.Unavailable)
}

func TestSendAndMarkRead(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp, err := h.client.Send(ctxT(t), "alice", "hello")
	if err != nil {
		t.Fatal(err)
	}
	msg := resp["message"].(map[string]any)
	if msg["content"] != "hello" || msg["local_status"] != string(messages.StatusSent) {
		t.Errorf("message = %v", msg)
	}

	_, err = h.client.Send(ctxT(t), "alice", "")
	wantCode(t, err, codes.InvalidArgument)

	h.chat.unread = 4
	resp, err = h.client.MarkRead(ctxT(t), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if resp["unread_total"] != float64(0) {
		t.Errorf("unread_total = %v, want 0", resp["unread_total"])
	}
}

func TestSendUnauthorized(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.chat.sendErr = neterr.FromStatus(401, nil)
	_, err := h.client.Send(ctxT(t), "alice", "hello")
	wantCode(t, err, codes.Unauthenticated)
}

func TestPollAndVote(t *testing.T) {
	optA := uuid.New()
	count := 1
	visible := &rest.Poll{
		Options:           []rest.PollOption{{ID: optA, OptionText: "A", VoteCount: &count}},
		TotalVotes:        1,
		UserVotedOptionID: &optA,
		ResultsVisible:    true,
	}
	polls := &fakePolls{
		vote:    func() (*rest.Poll, error) { return visible, nil },
		results: func() (*rest.Poll, error) { return &rest.Poll{Options: []rest.PollOption{{ID: optA, OptionText: "A"}}}, nil },
	}
	h := newHarness(t, polls, authFlag(true))

	resp, err := h.client.Poll(ctxT(t), "post-1", false)
	if err != nil {
		t.Fatal(err)
	}
	p := resp["poll"].(map[string]any)
	if p["results_visible"] != false {
		t.Errorf("poll = %v", p)
	}

	resp, err = h.client.Vote(ctxT(t), "post-1", optA.String())
	if err != nil {
		t.Fatal(err)
	}
	p = resp["poll"].(map[string]any)
	if p["user_voted_option_id"] != optA.String() || p["total_votes"] != float64(1) {
		t.Errorf("poll after vote = %v", p)
	}

	_, err = h.client.Vote(ctxT(t), "post-1", "not-a-uuid")
	wantCode(t, err, codes.InvalidArgument)
}

func TestVoteUnauthenticated(t *testing.T) {
	polls := &fakePolls{
		vote:    func() (*rest.Poll, error) { return nil, errors.New("unreachable") },
		results: func() (*rest.Poll, error) { return nil, errors.New("unreachable") },
	}
	h := newHarness(t, polls, authFlag(false))
	_, err := h.client.Vote(ctxT(t), "post-1", uuid.NewString())
	wantCode(t, err, codes.Unauthenticated)
}

func TestPollNotConfigured(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.client.Poll(ctxT(t), "post-1", false)
	wantCode(t, err, codes.Unavailable)
}

func TestClear(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.chat.convs = []chat.Conversation{{UserID: "alice"}, {UserID: "bob"}}
	h.chat.unread = 2
	focus := true
	if _, err := h.client.Messages(ctxT(t), "alice", 0, &focus); err != nil {
		t.Fatal(err)
	}

	resp, err := h.client.Clear(ctxT(t), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if resp["conversations"] != float64(1) {
		t.Errorf("resp = %v, want one conversation left", resp)
	}
	if h.prefs.String(PrefActiveConversation) != "alice" || !h.chat.viewOn {
		t.Error("clearing another conversation dropped the focused one")
	}

	resp, err = h.client.Clear(ctxT(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if resp["conversations"] != float64(0) || resp["unread_total"] != float64(0) {
		t.Errorf("resp = %v after clearing all", resp)
	}
	if !slices.Equal(h.chat.cleared, []string{"bob", "*"}) {
		t.Errorf("cleared = %v", h.chat.cleared)
	}
	if h.prefs.String(PrefActiveConversation) != "" || h.chat.active != "" || h.chat.viewOn {
		t.Error("clearing everything kept a focused conversation")
	}

	_, err = h.client.call(ctxT(t), MethodClear, nil)
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.call(ctxT(t), MethodClear, map[string]any{"user_id": "alice", "all": true})
	wantCode(t, err, codes.InvalidArgument)
}

func TestWatchStreamsEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := ctxT(t)
	recv, err := h.client.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan map[string]any, 1)
	go func() {
		evt, err := recv()
		if err == nil {
			got <- evt
		}
	}()

	// The server subscribes asynchronously; publish until the stream sees it.
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-got:
			if evt["kind"] != bus.KindChatTyping {
				t.Errorf("kind = %v", evt["kind"])
			}
			if _, err := uuid.Parse(evt["event_id"].(string)); err != nil {
				t.Errorf("event_id = %v: %v", evt["event_id"], err)
			}
			if p := evt["payload"].(map[string]any); p["user_id"] != "alice" {
				t.Errorf("payload = %v", p)
			}
			return
		case <-tick.C:
			h.bus.Publish(bus.NewEvent(bus.KindChatTyping, chat.Typing{UserID: "alice"}))
		case <-ctx.Done():
			t.Fatal("timed out waiting for watch event")
		}
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{neterr.FromStatus(403, nil), codes.PermissionDenied},
		{neterr.FromStatus(404, nil), codes.NotFound},
		{neterr.FromStatus(409, nil), codes.AlreadyExists},
		{neterr.FromStatus(503, nil), codes.Unavailable},
		{neterr.New(neterr.Timeout, nil), codes.DeadlineExceeded},
		{neterr.New(neterr.DecodingError, nil), codes.Internal},
		{context.Canceled, codes.Canceled},
		{poll.ErrVoteInFlight, codes.Aborted},
		{errors.New("boom"), codes.Unknown},
	}
	for _, tt := range tests {
		if got := grpcstatus.Code(toStatus("op", tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if toStatus("op", nil) != nil {
		t.Error("toStatus(nil) != nil")
	}
}
