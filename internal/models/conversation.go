package models

import (
	"sort"
	"time"
)

type Conversation struct {
	ID             string     `json:"id"`
	ParticipantIDs []string   `json:"participant_ids"`
	LastMessage    *string    `json:"last_message,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	BidID          *string    `json:"bid_id,omitempty"`
	ThreadID       *string    `json:"thread_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Computed for listings, never persisted
	UnreadCount int `json:"unread_count"`
}

// LinkedBidID returns the bid gating this conversation. bid_id wins over
// thread_id; an empty result means the conversation is unlinked.
func (c *Conversation) LinkedBidID() string {
	if c.BidID != nil && *c.BidID != "" {
		return *c.BidID
	}
	if c.ThreadID != nil && *c.ThreadID != "" {
		return *c.ThreadID
	}
	return ""
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// NormalizePair orders two participant ids so an unordered pair has one
// canonical form.
func NormalizePair(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// PairKey is the value backing the unique constraint on conversations.
func PairKey(a, b string) string {
	pair := NormalizePair(a, b)
	return pair[0] + ":" + pair[1]
}

type ConversationSummary struct {
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
}
