package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

func receive(t *testing.T, sub Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.Changes():
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}
	return Change{}
}

func TestHubDeliversMatchingChanges(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	defer hub.Close()

	sub, err := hub.Subscribe(context.Background(), Filter{Table: "messages", Column: "conversation_id", Value: "c1"})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.PublishRow("messages", EventInsert, row{ID: "m0", ConversationID: "c2"}, nil))
	require.NoError(t, hub.PublishRow("messages", EventInsert, row{ID: "m1", ConversationID: "c1"}, nil))
	require.NoError(t, hub.PublishRow("conversations", EventInsert, row{ID: "c1", ConversationID: "c1"}, nil))
	require.NoError(t, hub.PublishRow("messages", EventUpdate, row{ID: "m1", ConversationID: "c1"}, nil))

	first := receive(t, sub)
	assert.Equal(t, EventInsert, first.Type)
	var r row
	require.NoError(t, first.Decode(&r))
	assert.Equal(t, "m1", r.ID)

	second := receive(t, sub)
	assert.Equal(t, EventUpdate, second.Type)

	select {
	case c := <-sub.Changes():
		t.Fatalf("unexpected change %+v", c)
	default:
	}
}

func TestHubEventFilter(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	defer hub.Close()

	sub, err := hub.Subscribe(context.Background(), Filter{Table: "bids", Event: EventUpdate})
	require.NoError(t, err)

	require.NoError(t, hub.PublishRow("bids", EventInsert, map[string]string{"id": "b1"}, nil))
	require.NoError(t, hub.PublishRow("bids", EventUpdate, map[string]string{"id": "b1"}, nil))

	assert.Equal(t, EventUpdate, receive(t, sub).Type)
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	sub, err := hub.Subscribe(context.Background(), Filter{Table: "messages"})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	hub.Close()
	_, ok := <-sub.Changes()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrHubClosed)

	_, err = hub.Subscribe(context.Background(), Filter{Table: "messages"})
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestSubscriptionCloseUnblocksPublisher(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	defer hub.Close()
	sub, err := hub.Subscribe(context.Background(), Filter{Table: "messages"})
	require.NoError(t, err)

	hub.Publish(Change{Type: EventInsert, Table: "messages", Record: []byte(`{}`)})

	published := make(chan struct{})
	go func() {
		hub.Publish(Change{Type: EventInsert, Table: "messages", Record: []byte(`{}`)})
		close(published)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after close")
	}
	assert.Equal(t, 0, hub.Subscribers())
	assert.NoError(t, sub.Err())
}

func TestFilterString(t *testing.T) {
	assert.Equal(t, "conversation_id=eq.c1", Filter{Table: "messages", Column: "conversation_id", Value: "c1"}.String())
	assert.Empty(t, Filter{Table: "messages"}.String())
}

func TestFilterMatchesDeleteUsesOldRecord(t *testing.T) {
	f := Filter{Table: "messages", Column: "conversation_id", Value: "c1"}
	c := Change{Type: EventDelete, Table: "messages", Record: []byte(`{}`), OldRecord: []byte(`{"conversation_id":"c1"}`)}
	assert.True(t, f.Matches(c))
}
