// Package messaging implements two-party conversations between marketplace
// members: resolving a conversation for a pair, streaming its messages,
// gating sends on the linked bid, and sending.
package messaging

import (
	"context"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/rs/zerolog"
)

const (
	tableMessages      = "messages"
	tableConversations = "conversations"
	tableBids          = "bids"

	notifyTimeout = 15 * time.Second
)

type ConversationStore interface {
	FindConversation(ctx context.Context, a, b string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateConversationSummary(ctx context.Context, id string, s models.ConversationSummary) error
}

type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	MarkRead(ctx context.Context, ids []string, at time.Time) error
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}

type Store interface {
	ConversationStore
	MessageStore
}

// Notifier is told about every message that was stored. Implementations
// must not block for long and own their failures.
type Notifier interface {
	MessageSent(ctx context.Context, conv *models.Conversation, msg *models.Message)
}

// Service is the messaging API for one signed-in session.
type Service struct {
	session  auth.Session
	store    Store
	feed     realtime.Feed
	policy   Policy
	resolver *Resolver
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(session auth.Session, store Store, feed realtime.Feed, policy Policy, opts ...Option) *Service {
	s := &Service{
		session: session,
		store:   store,
		feed:    feed,
		policy:  policy,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	if s.feed == nil {
		s.feed = realtime.Offline{}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(store)
	s.logger = s.logger.With().Str("component", "messaging").Str("user_id", session.UserID).Logger()
	return s
}

func (s *Service) Session() auth.Session {
	return s.session
}

func (s *Service) requireSession(op string) error {
	if !s.session.Authenticated() {
		return apperr.New(apperr.KindNotAuthenticated, op, "not authenticated")
	}
	return nil
}

// ResolveWith finds or creates the conversation between the caller and other.
func (s *Service) ResolveWith(ctx context.Context, other string) (*Resolution, error) {
	if err := s.requireSession("messaging.resolve"); err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, s.session.UserID, other)
}

// Resolve finds or creates the conversation for an arbitrary pair.
func (s *Service) Resolve(ctx context.Context, a, b string) (*Resolution, error) {
	if err := s.requireSession("messaging.resolve"); err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, a, b)
}

// conversation loads a conversation the caller participates in.
func (s *Service) conversation(ctx context.Context, op, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, apperr.New(apperr.KindValidation, op, "conversation id is required")
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(s.session.UserID) {
		return nil, apperr.New(apperr.KindPermissionDenied, op, "not a participant in this conversation")
	}
	return conv, nil
}

type ConversationList struct {
	Conversations []models.Conversation `json:"conversations"`
	Available     bool                  `json:"available"`
	Error         string                `json:"error,omitempty"`
}

// ListConversations returns the caller's conversations, most recently
// active first, with unread counts.
func (s *Service) ListConversations(ctx context.Context) (*ConversationList, error) {
	const op = "messaging.list_conversations"
	if err := s.requireSession(op); err != nil {
		return nil, err
	}
	rows, err := s.store.ListConversations(ctx, s.session.UserID)
	if err != nil {
		if unavailable(err) || apperr.IsKind(err, apperr.KindTransient) {
			s.logger.Warn().Err(err).Msg("conversations unavailable")
			return &ConversationList{Conversations: []models.Conversation{}, Available: false, Error: apperr.Message(err)}, nil
		}
		return nil, err
	}
	for i := range rows {
		n, err := s.store.CountUnread(ctx, rows[i].ID, s.session.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", rows[i].ID).Msg("unread count failed")
			continue
		}
		rows[i].UnreadCount = n
	}
	if rows == nil {
		rows = []models.Conversation{}
	}
	return &ConversationList{Conversations: rows, Available: true}, nil
}

type History struct {
	Messages []models.Message `json:"messages"`
	Status   StreamStatus     `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// History returns the stored messages of a conversation in creation order.
func (s *Service) History(ctx context.Context, conversationID string) (*History, error) {
	const op = "messaging.history"
	if err := s.requireSession(op); err != nil {
		return nil, err
	}
	if _, err := s.conversation(ctx, op, conversationID); err != nil {
		if h := s.emptyHistory(err); h != nil {
			return h, nil
		}
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		if h := s.emptyHistory(err); h != nil {
			return h, nil
		}
		return nil, err
	}
	sortMessages(msgs)
	if msgs == nil {
		msgs = []models.Message{}
	}
	return &History{Messages: msgs, Status: StreamReady}, nil
}

// MarkRead stamps read_at on the given messages. Empty input is a no-op.
func (s *Service) MarkRead(ctx context.Context, ids []string) error {
	const op = "messaging.mark_read"
	if err := s.requireSession(op); err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return nil
	}
	return s.store.MarkRead(ctx, clean, s.now())
}

// Unlock evaluates whether the caller may send in the conversation.
func (s *Service) Unlock(ctx context.Context, conversationID string) (Decision, error) {
	const op = "messaging.unlock"
	if err := s.requireSession(op); err != nil {
		return Decision{}, err
	}
	conv, err := s.conversation(ctx, op, conversationID)
	if err != nil {
		return Decision{}, err
	}
	return s.policy.Evaluate(ctx, conv)
}

// emptyHistory maps a load error the view can survive to an empty
// history carrying its status, or returns nil.
func (s *Service) emptyHistory(err error) *History {
	switch {
	case unavailable(err):
		return &History{Messages: []models.Message{}, Status: StreamUnavailable, Error: apperr.Message(err)}
	case apperr.IsKind(err, apperr.KindTransient):
		s.logger.Warn().Err(err).Msg("history load failed")
		return &History{Messages: []models.Message{}, Status: StreamDegraded, Error: apperr.Message(err)}
	}
	return nil
}

func unavailable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindFeatureUnavailable, apperr.KindPermissionDenied:
		return true
	}
	return false
}
