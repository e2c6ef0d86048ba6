package domain

import "time"

type TerminationReason string

const (
	TerminationComplete      TerminationReason = "complete"
	TerminationCancelled     TerminationReason = "cancelled"
	TerminationUpstreamError TerminationReason = "upstream_error"
	TerminationEmptyResponse TerminationReason = "empty_response"
)

// StreamFragment is one decoded unit from the upstream completion stream.
// Content carries a token delta; Sources, when present, replaces any
// previously captured source list (last write wins); ErrorMessage carries
// an explicit upstream error payload.
type StreamFragment struct {
	Content      string
	Sources      []Source
	Done         bool
	ErrorMessage string
}

// StreamState is the transient per-response state of the answer streamer.
// Scoped to a single query/response cycle; never shared across requests.
type StreamState struct {
	AccumulatedText string
	Sources         []Source
	Terminated      bool
	Reason          TerminationReason
	UpstreamError   string
}

// ChatMessage is one turn of conversation context handed to the streamer.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskRequest is the inbound contract for one grounded question.
type AskRequest struct {
	OwnerID        string
	ConversationID string
	Question       string
	DocumentIDs    []string
	Limit          int
	History        []ChatMessage
}

// CompletedTurn is the final renumbered message handed off for
// downstream persistence once a stream terminates normally.
type CompletedTurn struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	Question       string    `json:"question"`
	Content        string    `json:"content"`
	Sources        []Source  `json:"sources"`
	CreatedAt      time.Time `json:"created_at"`
}
