package rest

import (
	"github.com/google/uuid"
	"github.com/matheus3301/wallchat/internal/messages"
)

// HistoryPage is one page of a conversation's message history.
type HistoryPage struct {
	Messages    []messages.Message `json:"messages"`
	ProfileName string             `json:"profileName,omitempty"`
	Page        int                `json:"page"`
	HasMore     bool               `json:"hasMore"`
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type voteRequest struct {
	OptionID uuid.UUID `json:"optionId"`
}

// PollOption is one choice of a poll. VoteCount and Percentage are only
// present when results are visible to the caller.
type PollOption struct {
	ID           uuid.UUID `json:"id"`
	OptionText   string    `json:"optionText"`
	DisplayOrder int       `json:"displayOrder"`
	VoteCount    *int      `json:"voteCount,omitempty"`
	Percentage   *float64  `json:"percentage,omitempty"`
}

// Poll is a server snapshot of a post's poll.
type Poll struct {
	Options           []PollOption `json:"options"`
	TotalVotes        int          `json:"totalVotes"`
	UserVotedOptionID *uuid.UUID   `json:"userVotedOptionId,omitempty"`
	ResultsVisible    bool         `json:"resultsVisible"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e apiError) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}
