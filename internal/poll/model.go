// Package poll keeps the local state of one post's poll and reconciles it
// with server snapshots that may be older than what the user already saw.
package poll

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/wallchat/internal/neterr"
	"github.com/matheus3301/wallchat/internal/rest"
	"github.com/matheus3301/wallchat/internal/retry"
	"go.uber.org/zap"
)

// ErrNotAuthenticated is returned by Vote without a signed-in user.
var ErrNotAuthenticated = errors.New("Not authenticated")

// ErrVoteInFlight is returned when Vote is called while a vote is pending.
var ErrVoteInFlight = errors.New("vote already in progress")

// Service is the poll API. *rest.Client implements it.
type Service interface {
	VotePoll(ctx context.Context, postID string, optionID uuid.UUID) (*rest.Poll, error)
	GetPollResults(ctx context.Context, postID string) (*rest.Poll, error)
}

// Auth reports whether a user is signed in.
type Auth interface {
	IsAuthenticated() bool
}

// Model is the poll state for one post.
type Model struct {
	postID  string
	service Service
	policy  retry.Policy
	logger  *zap.Logger

	mu       sync.Mutex
	poll     *rest.Poll
	isVoting bool
	errMsg   string
}

// NewModel creates an empty model for postID.
func NewModel(postID string, service Service, policy retry.Policy, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{postID: postID, service: service, policy: policy, logger: logger}
}

// Poll returns a copy of the current poll, or nil.
func (m *Model) Poll() *rest.Poll {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePoll(m.poll)
}

// IsVoting reports whether a vote is in flight.
func (m *Model) IsVoting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isVoting
}

// ErrorMessage is the last user-visible vote failure, or "".
func (m *Model) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// Update merges an incoming snapshot and reports whether local state changed.
// Snapshots are ignored while a vote is in flight. Once the user has voted, a
// snapshot that hides results is stale: local results are kept and only the
// vote total may grow.
func (m *Model) Update(incoming *rest.Poll) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(incoming)
}

func (m *Model) updateLocked(incoming *rest.Poll) bool {
	if incoming == nil || m.isVoting {
		return false
	}
	local := m.poll
	if local == nil || !local.ResultsVisible || incoming.ResultsVisible {
		m.poll = clonePoll(incoming)
		return true
	}
	if incoming.TotalVotes > local.TotalVotes {
		local.TotalVotes = incoming.TotalVotes
		return true
	}
	return false
}

// Vote casts optionID. On success the server's snapshot replaces local state.
// A conflict means the vote already counted, so results are refetched without
// surfacing an error. Any other failure sets ErrorMessage.
func (m *Model) Vote(ctx context.Context, optionID uuid.UUID, auth Auth) error {
	if auth == nil || !auth.IsAuthenticated() {
		m.mu.Lock()
		m.errMsg = ErrNotAuthenticated.Error()
		m.mu.Unlock()
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.isVoting {
		m.mu.Unlock()
		return ErrVoteInFlight
	}
	m.isVoting = true
	m.errMsg = ""
	m.mu.Unlock()

	voted, err := m.service.VotePoll(ctx, m.postID, optionID)

	m.mu.Lock()
	m.isVoting = false
	switch {
	case err == nil:
		m.poll = clonePoll(voted)
		m.mu.Unlock()
		m.logger.Info("poll vote recorded", zap.String("post_id", m.postID), zap.Stringer("option_id", optionID))
		return nil
	case neterr.Is(err, neterr.Conflict):
		m.mu.Unlock()
		m.logger.Debug("poll already voted, resyncing", zap.String("post_id", m.postID))
		if rerr := m.LoadResults(ctx); rerr != nil {
			m.logger.Warn("poll resync failed", zap.Error(rerr), zap.String("post_id", m.postID))
		}
		return nil
	default:
		if !neterr.IsCancelled(err) {
			m.errMsg = userMessage(err)
		}
		m.mu.Unlock()
		m.logger.Warn("poll vote failed", zap.Error(err), zap.String("post_id", m.postID))
		return err
	}
}

// LoadResults fetches the current results and merges them through Update.
func (m *Model) LoadResults(ctx context.Context) error {
	snap, err := retry.Do(ctx, m.policy, func(ctx context.Context) (*rest.Poll, error) {
		return m.service.GetPollResults(ctx, m.postID)
	}, retry.WithLogger(m.logger), retry.WithName("poll_results"))
	if err != nil {
		return err
	}
	m.Update(snap)
	return nil
}

func userMessage(err error) string {
	switch neterr.KindOf(err) {
	case neterr.Unauthorized:
		return "Please sign in again"
	case neterr.Timeout, neterr.NoConnection:
		return "Network unavailable, try again"
	case neterr.ServerError:
		return "Server error, try again later"
	case neterr.NotFound:
		return "This poll no longer exists"
	}
	return "Could not submit vote"
}

func clonePoll(p *rest.Poll) *rest.Poll {
	if p == nil {
		return nil
	}
	out := *p
	out.Options = make([]rest.PollOption, len(p.Options))
	for i, o := range p.Options {
		if o.VoteCount != nil {
			v := *o.VoteCount
			o.VoteCount = &v
		}
		if o.Percentage != nil {
			v := *o.Percentage
			o.Percentage = &v
		}
		out.Options[i] = o
	}
	if p.UserVotedOptionID != nil {
		id := *p.UserVotedOptionID
		out.UserVotedOptionID = &id
	}
	return &out
}
