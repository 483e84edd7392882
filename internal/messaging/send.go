package messaging

import (
	"context"
	"encoding/json"
	"strings"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
)

// Reasons reported with validation failures of a draft.
const (
	ReasonEmpty          = "empty"
	ReasonNoConversation = "no conversation"
)

type Draft struct {
	Content  string                 `json:"content" conform:"trim"`
	Type     models.MessageType     `json:"message_type"`
	Metadata map[string]interface{} `json:"metadata"`
}

// prepare validates d locally. Nothing here touches the network.
func prepare(conversationID, senderID string, d Draft) (models.NewMessage, error) {
	const op = "messaging.send"
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return models.NewMessage{}, apperr.New(apperr.KindValidation, op, ReasonEmpty)
	}
	if conversationID == "" {
		return models.NewMessage{}, apperr.New(apperr.KindValidation, op, ReasonNoConversation)
	}
	typ := d.Type
	if typ == "" {
		typ = models.MessageTypeText
	}
	if !typ.Valid() {
		return models.NewMessage{}, apperr.New(apperr.KindValidation, op, "unsupported message type "+string(typ))
	}
	return models.NewMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    typ,
		Metadata:       d.Metadata,
	}, nil
}

// Send validates the draft, checks the unlock policy and stores the
// message. The stored row reaches open streams through the feed.
func (s *Service) Send(ctx context.Context, conversationID string, d Draft) (*models.Message, error) {
	const op = "messaging.send"
	if err := s.requireSession(op); err != nil {
		return nil, err
	}
	msg, err := prepare(conversationID, s.session.UserID, d)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversation(ctx, op, conversationID)
	if err != nil {
		return nil, err
	}
	decision, err := s.policy.Evaluate(ctx, conv)
	if err != nil {
		return nil, err
	}
	if !decision.Unlocked {
		return nil, apperr.New(apperr.KindMessagingLocked, op, LockedReason)
	}
	return s.deliver(ctx, conv, msg)
}

// deliver inserts msg, then updates the conversation summary and notifies
// the other participant. Only the insert decides success.
func (s *Service) deliver(ctx context.Context, conv *models.Conversation, msg models.NewMessage) (*models.Message, error) {
	const op = "messaging.send"
	stored, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		if apperr.IsKind(err, apperr.KindMessagingLocked) {
			return nil, apperr.Wrap(err, apperr.KindMessagingLocked, op, LockedReason)
		}
		return nil, err
	}

	at := stored.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	summary := models.ConversationSummary{LastMessage: stored.Content, LastMessageAt: at}
	if err := s.store.UpdateConversationSummary(ctx, conv.ID, summary); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("conversation summary update failed")
	}

	if s.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		go func() {
			defer cancel()
			s.notifier.MessageSent(notifyCtx, conv, stored)
		}()
	}
	return stored, nil
}

func decodeMessage(raw json.RawMessage, m *models.Message) error {
	return json.Unmarshal(raw, m)
}
