package messaging

import (
	"context"
	"sync"

	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/rs/zerolog"
)

// Inbox keeps the caller's conversation list current. A change to any
// conversation the caller takes part in, or to a message in one, reloads
// the list with fresh unread counts.
type Inbox struct {
	svc    *Service
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	subs   []realtime.Subscription
	reload chan struct{}

	mu      sync.Mutex
	list    *ConversationList
	ids     map[string]bool
	status  StreamStatus
	changed chan struct{}

	wg sync.WaitGroup
}

// WatchConversations subscribes before loading the list, so a conversation
// created during the load still triggers a reload.
func (s *Service) WatchConversations(ctx context.Context) (*Inbox, error) {
	const op = "messaging.watch_conversations"
	if err := s.requireSession(op); err != nil {
		return nil, err
	}

	inboxCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	in := &Inbox{
		svc:     s,
		logger:  s.logger.With().Str("user_id", s.session.UserID).Logger(),
		ctx:     inboxCtx,
		cancel:  cancel,
		reload:  make(chan struct{}, 1),
		status:  StreamLoading,
		changed: make(chan struct{}, 1),
	}

	for _, table := range []string{tableConversations, tableMessages} {
		sub, err := s.feed.Subscribe(ctx, realtime.Filter{Table: table, Event: realtime.EventAll})
		if err != nil {
			in.logger.Warn().Err(err).Str("table", table).Msg("conversation list will not update live")
			in.closeSubs()
			in.subs = nil
			break
		}
		in.subs = append(in.subs, sub)
	}

	list, err := s.ListConversations(ctx)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.mu.Lock()
	in.set(list)
	if len(in.subs) == 0 {
		in.status = StreamDisconnected
	} else {
		in.status = StreamReady
	}
	in.mu.Unlock()

	if len(in.subs) > 0 {
		in.wg.Add(len(in.subs) + 1)
		for _, sub := range in.subs {
			go in.pump(sub)
		}
		go in.reloader()
	}
	return in, nil
}

// List returns the latest conversation list.
func (in *Inbox) List() ConversationList {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := *in.list
	out.Conversations = append([]models.Conversation(nil), in.list.Conversations...)
	return out
}

func (in *Inbox) Status() StreamStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// Changed is signalled after every reload and status change. Signals
// coalesce.
func (in *Inbox) Changed() <-chan struct{} {
	return in.changed
}

// Close stops live updates. It is safe to call more than once.
func (in *Inbox) Close() error {
	in.cancel()
	in.closeSubs()
	in.wg.Wait()
	return nil
}

func (in *Inbox) closeSubs() {
	for _, sub := range in.subs {
		sub.Close()
	}
}

// set stores list and the ids it contains. Called with mu held.
func (in *Inbox) set(list *ConversationList) {
	in.list = list
	in.ids = make(map[string]bool, len(list.Conversations))
	for _, c := range list.Conversations {
		in.ids[c.ID] = true
	}
}

func (in *Inbox) pump(sub realtime.Subscription) {
	defer in.wg.Done()
	for c := range sub.Changes() {
		if in.relevant(c) {
			select {
			case in.reload <- struct{}{}:
			default:
			}
		}
	}
	if in.ctx.Err() != nil {
		return
	}
	in.logger.Warn().AnErr("cause", sub.Err()).Msg("conversation list feed closed")
	in.mu.Lock()
	in.status = StreamDisconnected
	in.mu.Unlock()
	in.notify()
}

// relevant reports whether c can change what the caller's list shows.
func (in *Inbox) relevant(c realtime.Change) bool {
	record := c.Record
	if c.Type == realtime.EventDelete {
		record = c.OldRecord
	}
	ch := realtime.Change{Record: record}
	switch c.Table {
	case tableConversations:
		var conv models.Conversation
		if err := ch.Decode(&conv); err != nil || len(conv.ParticipantIDs) == 0 {
			// Deletes may carry only the key.
			in.mu.Lock()
			defer in.mu.Unlock()
			return conv.ID == "" || in.ids[conv.ID]
		}
		return conv.HasParticipant(in.svc.session.UserID)
	case tableMessages:
		var msg models.Message
		if err := ch.Decode(&msg); err != nil {
			return false
		}
		in.mu.Lock()
		defer in.mu.Unlock()
		return in.ids[msg.ConversationID]
	}
	return false
}

func (in *Inbox) reloader() {
	defer in.wg.Done()
	for {
		select {
		case <-in.ctx.Done():
			return
		case <-in.reload:
		}
		list, err := in.svc.ListConversations(in.ctx)
		if err != nil {
			if in.ctx.Err() == nil {
				in.logger.Warn().Err(err).Msg("conversation list reload failed")
			}
			continue
		}
		in.mu.Lock()
		if !list.Available && in.list.Available {
			// Keep showing the last good list.
			in.mu.Unlock()
			in.logger.Warn().Str("error", list.Error).Msg("conversation list reload failed")
			continue
		}
		in.set(list)
		in.mu.Unlock()
		in.notify()
	}
}

func (in *Inbox) notify() {
	select {
	case in.changed <- struct{}{}:
	default:
	}
}
