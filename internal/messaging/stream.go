package messaging

import (
	"context"
	"sort"
	"sync"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/rs/zerolog"
)

type StreamStatus string

const (
	StreamLoading StreamStatus = "loading"
	StreamReady   StreamStatus = "ready"
	// StreamUnavailable means the backend refused or lacks the messages
	// table. It is distinct from a conversation with no messages.
	StreamUnavailable StreamStatus = "unavailable"
	// StreamDisconnected means history is loaded but live updates stopped.
	StreamDisconnected StreamStatus = "disconnected"
	// StreamDegraded means history could not be fetched because the
	// backend was unreachable. Live updates still arrive.
	StreamDegraded StreamStatus = "degraded"
)

type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
	EventStatus   EventKind = "status"
)

type StreamEvent struct {
	Kind     EventKind        `json:"kind"`
	Message  *models.Message  `json:"message,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
	Status   StreamStatus     `json:"status,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type MessageLister interface {
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Stream is the live, ordered view of one conversation's messages.
//
// It subscribes before loading history. Changes that arrive during the
// load are held back and merged into the loaded rows, so nothing inserted
// in between is missed or shown twice.
type Stream struct {
	conversationID string
	sub            realtime.Subscription
	logger         zerolog.Logger

	mu       sync.Mutex
	messages []models.Message
	status   StreamStatus
	cause    error
	loaded   bool
	closed   bool
	pending  []realtime.Change
	events   []StreamEvent
	changed  chan struct{}

	wg sync.WaitGroup
}

func OpenStream(ctx context.Context, lister MessageLister, feed realtime.Feed, conversationID string, logger zerolog.Logger) (*Stream, error) {
	const op = "messaging.open_stream"
	if conversationID == "" {
		return nil, apperr.New(apperr.KindValidation, op, "conversation id is required")
	}

	s := &Stream{
		conversationID: conversationID,
		logger:         logger.With().Str("conversation_id", conversationID).Logger(),
		status:         StreamLoading,
		changed:        make(chan struct{}, 1),
	}

	sub, err := feed.Subscribe(ctx, realtime.Filter{
		Table:  tableMessages,
		Event:  realtime.EventAll,
		Column: "conversation_id",
		Value:  conversationID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("message feed unavailable, history only")
	} else {
		s.sub = sub
		s.wg.Add(1)
		go s.pump()
	}

	history, err := lister.ListMessages(ctx, conversationID)

	s.mu.Lock()
	switch {
	case err == nil:
	case unavailable(err):
		s.logger.Warn().Err(err).Msg("messages unavailable")
		s.loaded = true
		s.pending = nil
		s.messages = nil
		s.status = StreamUnavailable
		s.cause = err
		s.emit(StreamEvent{Kind: EventSnapshot, Messages: []models.Message{}, Status: s.status, Error: apperr.Message(err)})
		s.mu.Unlock()
		return s, nil
	case apperr.IsKind(err, apperr.KindTransient):
		s.logger.Warn().Err(err).Msg("history load failed, following live updates only")
		s.cause = err
		history = nil
	default:
		s.mu.Unlock()
		s.Close()
		return nil, err
	}

	s.messages = make([]models.Message, 0, len(history))
	for i := range history {
		s.upsert(history[i])
	}
	for _, c := range s.pending {
		s.apply(c, false)
	}
	s.pending = nil
	s.loaded = true
	if s.status == StreamLoading {
		switch {
		case s.sub == nil:
			s.status = StreamDisconnected
		case s.cause != nil:
			s.status = StreamDegraded
		default:
			s.status = StreamReady
		}
	}
	ev := StreamEvent{Kind: EventSnapshot, Messages: s.snapshot(), Status: s.status}
	if s.cause != nil {
		ev.Error = apperr.Message(s.cause)
	}
	s.emit(ev)
	s.mu.Unlock()

	return s, nil
}

func (s *Stream) pump() {
	defer s.wg.Done()
	for c := range s.sub.Changes() {
		s.mu.Lock()
		if !s.loaded {
			s.pending = append(s.pending, c)
		} else if s.status != StreamUnavailable {
			s.apply(c, true)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.logger.Warn().AnErr("cause", s.sub.Err()).Msg("message feed closed")
	if s.status == StreamUnavailable {
		return
	}
	s.status = StreamDisconnected
	if s.loaded {
		s.emit(StreamEvent{Kind: EventStatus, Status: s.status})
	}
}

// apply folds one change into the list. Called with mu held.
func (s *Stream) apply(c realtime.Change, notify bool) {
	var m models.Message
	source := c.Record
	if c.Type == realtime.EventDelete {
		source = c.OldRecord
	}
	if err := decodeMessage(source, &m); err != nil {
		s.logger.Warn().Err(err).Str("event", string(c.Type)).Msg("undecodable message change")
		return
	}
	if m.ID == "" || (m.ConversationID != "" && m.ConversationID != s.conversationID) {
		return
	}

	switch c.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		kind, changed := s.upsert(m)
		if changed && notify {
			msg := s.messages[s.indexOf(m.ID)]
			s.emit(StreamEvent{Kind: kind, Message: &msg})
		}
	case realtime.EventDelete:
		if i := s.indexOf(m.ID); i >= 0 {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			if notify {
				s.emit(StreamEvent{Kind: EventDeleted, Message: &m})
			}
		}
	}
}

// upsert inserts m in (created_at, id) order, or replaces the row with
// the same id when m is at least as recent.
func (s *Stream) upsert(m models.Message) (EventKind, bool) {
	if i := s.indexOf(m.ID); i >= 0 {
		if !supersedes(&m, &s.messages[i]) {
			return EventUpdated, false
		}
		if m.CreatedAt.Equal(s.messages[i].CreatedAt) {
			s.messages[i] = m
			return EventUpdated, true
		}
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		s.insertSorted(m)
		return EventUpdated, true
	}
	s.insertSorted(m)
	return EventInserted, true
}

func (s *Stream) insertSorted(m models.Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return m.Before(&s.messages[i])
	})
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
}

func (s *Stream) indexOf(id string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// supersedes reports whether in is a state at least as new as cur.
func supersedes(in, cur *models.Message) bool {
	if !in.UpdatedAt.IsZero() && !cur.UpdatedAt.IsZero() && in.UpdatedAt.Before(cur.UpdatedAt) {
		return false
	}
	if in.ReadAt == nil && cur.ReadAt != nil {
		return false
	}
	return true
}

func (s *Stream) emit(e StreamEvent) {
	s.events = append(s.events, e)
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Stream) snapshot() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Stream) ConversationID() string {
	return s.conversationID
}

// Messages returns the current ordered list.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Stream) Status() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns why history is missing when the stream opened unavailable
// or degraded.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Changed is signalled whenever new events are queued. Signals coalesce;
// call Drain to collect everything queued so far.
func (s *Stream) Changed() <-chan struct{} {
	return s.changed
}

// Drain returns and clears the queued events, oldest first.
func (s *Stream) Drain() []StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

// Close stops live updates. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.sub != nil {
		err = s.sub.Close()
	}
	s.wg.Wait()
	return err
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(&msgs[j])
	})
}
