package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestLinkedBidID(t *testing.T) {
	c := Conversation{}
	assert.Empty(t, c.LinkedBidID())

	c.ThreadID = strPtr("t1")
	assert.Equal(t, "t1", c.LinkedBidID())

	c.BidID = strPtr("b1")
	assert.Equal(t, "b1", c.LinkedBidID())

	c.BidID = strPtr("")
	assert.Equal(t, "t1", c.LinkedBidID())
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("u2", "u1"), PairKey("u1", "u2"))
	assert.Equal(t, []string{"u1", "u2"}, NormalizePair("u2", "u1"))
}

func TestOtherParticipant(t *testing.T) {
	c := Conversation{ParticipantIDs: []string{"u1", "u2"}}
	assert.Equal(t, "u2", c.OtherParticipant("u1"))
	assert.True(t, c.HasParticipant("u2"))
	assert.False(t, c.HasParticipant("u3"))
}

func TestBidStatusUnlocksMessaging(t *testing.T) {
	assert.True(t, BidStatusAccepted.UnlocksMessaging())
	assert.True(t, BidStatusClosed.UnlocksMessaging())
	assert.False(t, BidStatusOpen.UnlocksMessaging())
	assert.False(t, BidStatusRejected.UnlocksMessaging())
	assert.False(t, BidStatusCompleted.UnlocksMessaging())
}

func TestMessageBefore(t *testing.T) {
	now := time.Now()
	a := Message{ID: "a", CreatedAt: now}
	b := Message{ID: "b", CreatedAt: now}
	c := Message{ID: "0", CreatedAt: now.Add(time.Second)}

	assert.True(t, a.Before(&b))
	assert.False(t, b.Before(&a))
	assert.True(t, b.Before(&c))
}
