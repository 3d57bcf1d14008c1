package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wallchat/internal/neterr"
	"github.com/matheus3301/wallchat/internal/rest"
	"github.com/matheus3301/wallchat/internal/retry"
)

type fakeService struct {
	vote    func(ctx context.Context, optionID uuid.UUID) (*rest.Poll, error)
	results func() (*rest.Poll, error)
	fetches int
}

func (f *fakeService) VotePoll(ctx context.Context, _ string, optionID uuid.UUID) (*rest.Poll, error) {
	return f.vote(ctx, optionID)
}

func (f *fakeService) GetPollResults(context.Context, string) (*rest.Poll, error) {
	f.fetches++
	return f.results()
}

type auth bool

func (a auth) IsAuthenticated() bool { return bool(a) }

func intPtr(v int) *int { return &v }

func votedPoll(total int, option uuid.UUID) *rest.Poll {
	return &rest.Poll{
		Options: []rest.PollOption{
			{ID: option, OptionText: "yes", DisplayOrder: 0, VoteCount: intPtr(total)},
			{ID: uuid.New(), OptionText: "no", DisplayOrder: 1, VoteCount: intPtr(0)},
		},
		TotalVotes:        total,
		UserVotedOptionID: &option,
		ResultsVisible:    true,
	}
}

func hiddenPoll(total int) *rest.Poll {
	return &rest.Poll{
		Options:    []rest.PollOption{{ID: uuid.New(), OptionText: "yes"}},
		TotalVotes: total,
	}
}

func newModel(svc Service) *Model {
	return NewModel("post-1", svc, retry.NewPolicy(2, time.Millisecond, time.Millisecond), nil)
}

func TestUpdateAcceptsWhenNoLocalState(t *testing.T) {
	m := newModel(&fakeService{})
	if !m.Update(hiddenPoll(5)) {
		t.Fatal("Update on empty model should accept")
	}
	if m.Poll().TotalVotes != 5 {
		t.Errorf("total = %d, want 5", m.Poll().TotalVotes)
	}
	// Local results hidden: replaced unconditionally, even with fewer votes.
	m.Update(hiddenPoll(3))
	if m.Poll().TotalVotes != 3 {
		t.Errorf("total = %d, want 3", m.Poll().TotalVotes)
	}
}

func TestUpdateAcceptsWhenBothVisible(t *testing.T) {
	option := uuid.New()
	m := newModel(&fakeService{})
	m.Update(votedPoll(4, option))
	m.Update(votedPoll(2, option))
	if got := m.Poll().TotalVotes; got != 2 {
		t.Errorf("total = %d, want 2 (server authoritative)", got)
	}
}

func TestUpdatePreservesVoteAgainstStaleSnapshot(t *testing.T) {
	option := uuid.New()
	m := newModel(&fakeService{})
	m.Update(votedPoll(1, option))

	m.Update(hiddenPoll(2))

	p := m.Poll()
	if p.TotalVotes != 2 {
		t.Errorf("total = %d, want 2", p.TotalVotes)
	}
	if !p.ResultsVisible {
		t.Error("results visibility lost to stale snapshot")
	}
	if p.UserVotedOptionID == nil || *p.UserVotedOptionID != option {
		t.Errorf("voted option = %v, want %s", p.UserVotedOptionID, option)
	}
	if len(p.Options) != 2 || p.Options[0].VoteCount == nil {
		t.Errorf("options replaced by stale snapshot: %+v", p.Options)
	}
}

func TestUpdateVoteCountNeverRegresses(t *testing.T) {
	m := newModel(&fakeService{})
	m.Update(votedPoll(1, uuid.New()))
	if m.Update(hiddenPoll(0)) {
		t.Error("stale snapshot with fewer votes reported a change")
	}
	if got := m.Poll().TotalVotes; got != 1 {
		t.Errorf("total = %d, want 1", got)
	}
}

func TestUpdateSkippedWhileVoting(t *testing.T) {
	option := uuid.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	svc := &fakeService{vote: func(context.Context, uuid.UUID) (*rest.Poll, error) {
		close(entered)
		<-release
		return votedPoll(7, option), nil
	}}
	m := newModel(svc)
	m.Update(hiddenPoll(1))

	done := make(chan error, 1)
	go func() { done <- m.Vote(context.Background(), option, auth(true)) }()
	<-entered

	if !m.IsVoting() {
		t.Fatal("IsVoting = false during vote")
	}
	if m.Update(hiddenPoll(99)) || m.Update(votedPoll(50, option)) {
		t.Error("Update applied while voting")
	}
	if got := m.Poll().TotalVotes; got != 1 {
		t.Errorf("total = %d, want 1 (unchanged while voting)", got)
	}
	if err := m.Vote(context.Background(), option, auth(true)); !errors.Is(err, ErrVoteInFlight) {
		t.Errorf("second Vote err = %v, want ErrVoteInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if m.IsVoting() {
		t.Error("IsVoting still true after vote")
	}
	if got := m.Poll().TotalVotes; got != 7 {
		t.Errorf("total = %d, want 7 from vote response", got)
	}
	if !m.Update(hiddenPoll(9)) {
		t.Error("Update should apply again after the vote")
	}
}

func TestVoteRequiresAuthentication(t *testing.T) {
	m := newModel(&fakeService{})
	err := m.Vote(context.Background(), uuid.New(), auth(false))
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if m.ErrorMessage() != "Not authenticated" {
		t.Errorf("error message = %q", m.ErrorMessage())
	}
	if m.IsVoting() {
		t.Error("IsVoting set without authentication")
	}
}

func TestVoteConflictResyncsSilently(t *testing.T) {
	option := uuid.New()
	svc := &fakeService{
		vote: func(context.Context, uuid.UUID) (*rest.Poll, error) {
			return nil, neterr.FromStatus(409, errors.New("already voted"))
		},
		results: func() (*rest.Poll, error) { return votedPoll(3, option), nil },
	}
	m := newModel(svc)

	if err := m.Vote(context.Background(), option, auth(true)); err != nil {
		t.Fatalf("conflict surfaced as error: %v", err)
	}
	if m.ErrorMessage() != "" {
		t.Errorf("error message = %q, want none", m.ErrorMessage())
	}
	if svc.fetches != 1 {
		t.Errorf("results fetches = %d, want 1", svc.fetches)
	}
	p := m.Poll()
	if p == nil || !p.ResultsVisible || p.TotalVotes != 3 {
		t.Errorf("poll = %+v, want resynced results", p)
	}
}

func TestVoteFailureSetsErrorMessage(t *testing.T) {
	svc := &fakeService{vote: func(context.Context, uuid.UUID) (*rest.Poll, error) {
		return nil, neterr.FromStatus(500, nil)
	}}
	m := newModel(svc)

	err := m.Vote(context.Background(), uuid.New(), auth(true))
	if !neterr.Is(err, neterr.ServerError) {
		t.Fatalf("err = %v, want server error", err)
	}
	if m.ErrorMessage() == "" {
		t.Error("no error message after failed vote")
	}
	if m.IsVoting() {
		t.Error("IsVoting still true after failure")
	}
}

func TestLoadResultsRetries(t *testing.T) {
	calls := 0
	svc := &fakeService{results: func() (*rest.Poll, error) {
		calls++
		if calls == 1 {
			return nil, neterr.New(neterr.Timeout, nil)
		}
		return hiddenPoll(4), nil
	}}
	m := newModel(svc)
	if err := m.LoadResults(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 || m.Poll().TotalVotes != 4 {
		t.Errorf("calls = %d total = %d, want 2 and 4", calls, m.Poll().TotalVotes)
	}
}

func TestPollReturnsCopy(t *testing.T) {
	m := newModel(&fakeService{})
	m.Update(votedPoll(1, uuid.New()))
	p := m.Poll()
	*p.Options[0].VoteCount = 100
	p.TotalVotes = 100
	if got := m.Poll(); got.TotalVotes != 1 || *got.Options[0].VoteCount != 1 {
		t.Error("Poll() aliases internal state")
	}
}
