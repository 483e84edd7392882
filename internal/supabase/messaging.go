package supabase

import (
	"context"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
)

const (
	tableConversations = "conversations"
	tableMessages      = "messages"
)

// MessagingRepo reads and writes conversations and messages through
// PostgREST, acting as whoever the client is scoped to.
type MessagingRepo struct {
	c *Client
}

func NewMessagingRepo(c *Client) *MessagingRepo {
	return &MessagingRepo{c: c}
}

// FindConversation matches the participant set regardless of order.
func (r *MessagingRepo) FindConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	pair := models.NormalizePair(a, b)
	var rows []models.Conversation
	err := r.c.From(tableConversations).
		Select("*").
		Contains("participant_ids", pair).
		ContainedBy("participant_ids", pair).
		Order("created_at", true).
		Limit(1).
		Execute(ctx, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "conversations.find", "conversation not found")
	}
	return &rows[0], nil
}

func (r *MessagingRepo) CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.c.From(tableConversations).
		Select("*").
		Single().
		Insert(ctx, map[string]interface{}{
			"participant_ids": models.NormalizePair(a, b),
		}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *MessagingRepo) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.c.From(tableConversations).Select("*").Eq("id", id).Single().Execute(ctx, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *MessagingRepo) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var rows []models.Conversation
	err := r.c.From(tableConversations).
		Select("*").
		Contains("participant_ids", []string{userID}).
		Order("updated_at", false).
		Execute(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountUnread counts messages in the conversation sent by others and not yet read.
func (r *MessagingRepo) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	return r.c.From(tableMessages).
		Eq("conversation_id", conversationID).
		Neq("sender_id", userID).
		IsNull("read_at").
		Count(ctx)
}

func (r *MessagingRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var rows []models.Message
	err := r.c.From(tableMessages).
		Select("*").
		Eq("conversation_id", conversationID).
		Order("created_at", true).
		Order("id", true).
		Execute(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessagingRepo) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	var out models.Message
	if err := r.c.From(tableMessages).Select("*").Single().Insert(ctx, msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MessagingRepo) UpdateConversationSummary(ctx context.Context, id string, s models.ConversationSummary) error {
	return r.c.From(tableConversations).Eq("id", id).Update(ctx, map[string]interface{}{
		"last_message":    s.LastMessage,
		"last_message_at": s.LastMessageAt.UTC(),
		"updated_at":      s.LastMessageAt.UTC(),
	}, nil)
}

func (r *MessagingRepo) MarkRead(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.c.From(tableMessages).In("id", ids).IsNull("read_at").Update(ctx, map[string]interface{}{
		"read_at": at.UTC(),
	}, nil)
}
