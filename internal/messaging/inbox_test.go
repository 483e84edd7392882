package messaging_test

import (
	"context"
	"testing"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/memstore"
	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxFollowsNewConversationsAndMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox, err := f.service("u1").WatchConversations(ctx)
	require.NoError(t, err)
	defer inbox.Close()
	assert.Equal(t, messaging.StreamReady, inbox.Status())
	assert.True(t, inbox.List().Available)
	assert.Empty(t, inbox.List().Conversations)

	res, err := f.service("u2").ResolveWith(ctx, "u1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(inbox.List().Conversations) == 1
	}, waitFor, tick)

	// Other people's conversations never show up.
	_, err = f.service("u2").ResolveWith(ctx, "u3")
	require.NoError(t, err)

	_, err = f.store.InsertMessage(ctx, models.NewMessage{ConversationID: res.Conversation.ID, SenderID: "u2", Content: "still for sale?"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		list := inbox.List().Conversations
		return len(list) == 1 && list[0].UnreadCount == 1
	}, waitFor, tick)
	assert.Equal(t, res.Conversation.ID, inbox.List().Conversations[0].ID)
}

func TestInboxKeepsLastListWhenReloadFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.service("u1").ResolveWith(ctx, "u2")
	require.NoError(t, err)

	inbox, err := f.service("u1").WatchConversations(ctx)
	require.NoError(t, err)
	defer inbox.Close()
	require.Len(t, inbox.List().Conversations, 1)

	f.store.Fail("ListConversations", apperr.New(apperr.KindTransient, "conversations.list", "backend unreachable"))
	_, err = f.store.InsertMessage(ctx, models.NewMessage{ConversationID: res.Conversation.ID, SenderID: "u2", Content: "hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.store.Calls("ListConversations") >= 2
	}, waitFor, tick)

	list := inbox.List()
	assert.True(t, list.Available)
	assert.Len(t, list.Conversations, 1)
}

func TestInboxWithoutFeedIsDisconnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service("u1").ResolveWith(ctx, "u2")
	require.NoError(t, err)

	policy := messaging.NewPolicy(f.store, false, zerolog.Nop())
	svc := messaging.New(auth.Session{UserID: "u1", AccessToken: "token-u1"}, f.store, realtime.Offline{}, policy)
	inbox, err := svc.WatchConversations(ctx)
	require.NoError(t, err)
	defer inbox.Close()

	assert.Equal(t, messaging.StreamDisconnected, inbox.Status())
	assert.Len(t, inbox.List().Conversations, 1)
}

func TestInboxReportsFeedLoss(t *testing.T) {
	hub := realtime.NewHub(8, zerolog.Nop())
	store := memstore.New(hub)
	policy := messaging.NewPolicy(store, false, zerolog.Nop())
	svc := messaging.New(auth.Session{UserID: "u1", AccessToken: "token-u1"}, store, hub, policy)

	inbox, err := svc.WatchConversations(context.Background())
	require.NoError(t, err)
	defer inbox.Close()

	hub.Close()
	select {
	case <-inbox.Changed():
	case <-time.After(waitFor):
		t.Fatal("feed loss was not signalled")
	}
	assert.Equal(t, messaging.StreamDisconnected, inbox.Status())
}
