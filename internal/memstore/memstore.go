// Package memstore is an in-process backend with the same observable rules
// as the Supabase schema: one conversation per participant pair, the
// messaging lock trigger on insert, and a change feed for every write.
// It backs demo mode and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/google/uuid"
)

const (
	tableConversations = "conversations"
	tableMessages      = "messages"
	tableBids          = "bids"
	tableNotifications = "notifications"
)

// Store holds conversations, messages, bids and notifications.
type Store struct {
	hub *realtime.Hub

	mu            sync.Mutex
	conversations map[string]*models.Conversation
	pairs         map[string]string
	messages      map[string][]*models.Message
	bids          map[string]*models.Bid
	notifications []*models.Notification
	tokens        map[string][]string
	profiles      map[string]*models.Profile

	failures map[string]failure
	calls    map[string]int

	clockMu sync.Mutex
	last    time.Time
}

type failure struct {
	err  error
	once bool
}

// New returns an empty store publishing its writes to hub. hub may be nil.
func New(hub *realtime.Hub) *Store {
	return &Store{
		hub:           hub,
		conversations: make(map[string]*models.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]*models.Message),
		bids:          make(map[string]*models.Bid),
		tokens:        make(map[string][]string),
		profiles:      make(map[string]*models.Profile),
		failures:      make(map[string]failure),
		calls:         make(map[string]int),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = failure{err: err}
}

// FailOnce makes only the next call of op return err.
func (s *Store) FailOnce(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = failure{err: err, once: true}
}

// Calls reports how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records a call and returns the injected failure, if any. Called
// with mu held.
func (s *Store) enter(op string) error {
	s.calls[op]++
	f, ok := s.failures[op]
	if !ok {
		return nil
	}
	if f.once {
		delete(s.failures, op)
	}
	return f.err
}

// now is strictly increasing so creation order is always observable.
func (s *Store) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) publish(table string, typ realtime.EventType, row, old interface{}) {
	if s.hub == nil {
		return
	}
	_ = s.hub.PublishRow(table, typ, row, old)
}

func (s *Store) FindConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindConversation"); err != nil {
		return nil, err
	}
	id, ok := s.pairs[models.PairKey(a, b)]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "conversations.find", "conversation not found")
	}
	c := *s.conversations[id]
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	s.mu.Lock()
	if err := s.enter("CreateConversation"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key := models.PairKey(a, b)
	if _, ok := s.pairs[key]; ok {
		s.mu.Unlock()
		return nil, apperr.New(apperr.KindConflict, "conversations.create", "duplicate key value violates unique constraint \"conversations_participant_key\"")
	}
	at := s.now()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		ParticipantIDs: models.NormalizePair(a, b),
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID
	out := *conv
	s.mu.Unlock()

	s.publish(tableConversations, realtime.EventInsert, out, nil)
	return &out, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetConversation"); err != nil {
		return nil, err
	}
	conv, ok := s.conversations[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "conversations.get", "conversation not found")
	}
	c := *conv
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListConversations"); err != nil {
		return nil, err
	}
	var rows []models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			rows = append(rows, *conv)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
	})
	return rows, nil
}

func (s *Store) UpdateConversationSummary(ctx context.Context, id string, sum models.ConversationSummary) error {
	s.mu.Lock()
	if err := s.enter("UpdateConversationSummary"); err != nil {
		s.mu.Unlock()
		return err
	}
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "conversations.update", "conversation not found")
	}
	old := *conv
	last := sum.LastMessage
	at := sum.LastMessageAt.UTC()
	conv.LastMessage = &last
	conv.LastMessageAt = &at
	conv.UpdatedAt = s.now()
	out := *conv
	s.mu.Unlock()

	s.publish(tableConversations, realtime.EventUpdate, out, old)
	return nil
}

// LinkBid attaches a bid to a conversation, gating its messaging.
func (s *Store) LinkBid(conversationID, bidID string) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "conversations.link_bid", "conversation not found")
	}
	old := *conv
	if bidID == "" {
		conv.BidID = nil
	} else {
		id := bidID
		conv.BidID = &id
	}
	conv.UpdatedAt = s.now()
	out := *conv
	s.mu.Unlock()

	s.publish(tableConversations, realtime.EventUpdate, out, old)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListMessages"); err != nil {
		return nil, err
	}
	rows := make([]models.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		rows = append(rows, *m)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Before(&rows[j]) })
	return rows, nil
}

// InsertMessage enforces the same rules as the messages table: the sender
// must be a participant and a linked bid must permit messaging.
func (s *Store) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	const op = "messages.insert"
	s.mu.Lock()
	if err := s.enter("InsertMessage"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		s.mu.Unlock()
		return nil, apperr.New(apperr.KindPermissionDenied, op, "new row violates row-level security policy for table \"messages\"")
	}
	if !conv.HasParticipant(msg.SenderID) {
		s.mu.Unlock()
		return nil, apperr.New(apperr.KindPermissionDenied, op, "new row violates row-level security policy for table \"messages\"")
	}
	if bidID := conv.LinkedBidID(); bidID != "" && !s.unlockedLocked(bidID) {
		s.mu.Unlock()
		return nil, apperr.New(apperr.KindMessagingLocked, op, "messaging is locked for this conversation")
	}
	typ := msg.MessageType
	if typ == "" {
		typ = models.MessageTypeText
	}
	at := s.now()
	m := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MessageType:    typ,
		Metadata:       msg.Metadata,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], m)
	out := *m
	s.mu.Unlock()

	s.publish(tableMessages, realtime.EventInsert, out, nil)
	return &out, nil
}

func (s *Store) MarkRead(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	if err := s.enter("MarkRead"); err != nil {
		s.mu.Unlock()
		return err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	readAt := at.UTC()
	var updated, previous []models.Message
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if !want[m.ID] || m.ReadAt != nil {
				continue
			}
			previous = append(previous, *m)
			t := readAt
			m.ReadAt = &t
			m.UpdatedAt = s.now()
			updated = append(updated, *m)
		}
	}
	s.mu.Unlock()

	for i := range updated {
		s.publish(tableMessages, realtime.EventUpdate, updated[i], previous[i])
	}
	return nil
}

func (s *Store) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CountUnread"); err != nil {
		return 0, err
	}
	n := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderID != userID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

// PutBid stores a bid, replacing any with the same id.
func (s *Store) PutBid(bid models.Bid) *models.Bid {
	s.mu.Lock()
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}
	at := s.now()
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = at
	}
	bid.UpdatedAt = at
	b := bid
	s.bids[b.ID] = &b
	out := b
	s.mu.Unlock()

	s.publish(tableBids, realtime.EventInsert, out, nil)
	return &out
}

func (s *Store) SetBidStatus(id string, status models.BidStatus) error {
	s.mu.Lock()
	bid, ok := s.bids[id]
	if !ok {
		s.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "bids.update", "bid not found")
	}
	old := *bid
	bid.Status = status
	bid.UpdatedAt = s.now()
	out := *bid
	s.mu.Unlock()

	s.publish(tableBids, realtime.EventUpdate, out, old)
	return nil
}

func (s *Store) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetBid"); err != nil {
		return nil, err
	}
	bid, ok := s.bids[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "bids.get", "bid not found")
	}
	b := *bid
	return &b, nil
}

// MessagingUnlocked evaluates the bid predicate. Unknown bids are locked.
func (s *Store) MessagingUnlocked(ctx context.Context, bidID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("MessagingUnlocked"); err != nil {
		return false, err
	}
	return s.unlockedLocked(bidID), nil
}

func (s *Store) unlockedLocked(bidID string) bool {
	bid, ok := s.bids[bidID]
	return ok && bid.Status.UnlocksMessaging()
}
