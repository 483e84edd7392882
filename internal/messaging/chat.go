package messaging

import (
	"context"
	"sync"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"
)

// Chat is the caller's active conversation: its message stream plus the
// locally held unlock decision that gates Send.
//
// The decision is re-evaluated when the conversation row or its linked
// bid changes, and on Refresh.
type Chat struct {
	svc    *Service
	stream *Stream

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	conv     *models.Conversation
	decision Decision
	sending  bool

	lockChanged chan struct{}
}

// Open activates a conversation for the caller.
func (s *Service) Open(ctx context.Context, conversationID string) (*Chat, error) {
	const op = "messaging.open"
	if err := s.requireSession(op); err != nil {
		return nil, err
	}
	conv, err := s.conversation(ctx, op, conversationID)
	if err != nil {
		return nil, err
	}

	chatCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Chat{
		svc:         s,
		conv:        conv,
		ctx:         chatCtx,
		cancel:      cancel,
		lockChanged: make(chan struct{}, 1),
	}

	convSub, err := s.feed.Subscribe(ctx, realtime.Filter{
		Table:  tableConversations,
		Event:  realtime.EventUpdate,
		Column: "id",
		Value:  conv.ID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("conversation feed unavailable")
	}

	stream, err := OpenStream(ctx, s.store, s.feed, conv.ID, s.logger)
	if err != nil {
		cancel()
		if convSub != nil {
			convSub.Close()
		}
		return nil, err
	}
	c.stream = stream

	if convSub != nil {
		w := &bidWatch{chat: c}
		w.follow(conv.LinkedBidID())
		c.wg.Add(1)
		go c.watch(convSub, w)
	}
	c.evaluate(ctx)
	return c, nil
}

func (c *Chat) Stream() *Stream {
	return c.stream
}

func (c *Chat) Conversation() models.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.conv
}

func (c *Chat) Decision() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decision
}

// LockChanged is signalled when the unlock decision flips.
func (c *Chat) LockChanged() <-chan struct{} {
	return c.lockChanged
}

// Send refuses locally, with no network call, when the draft is empty or
// the conversation is locked. A lock rejection from the backend flips the
// local decision to locked.
func (c *Chat) Send(ctx context.Context, d Draft) error {
	const op = "messaging.send"
	c.mu.Lock()
	conv := c.conv
	msg, err := prepare(conv.ID, c.svc.session.UserID, d)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.decision.Unlocked {
		c.mu.Unlock()
		return apperr.New(apperr.KindMessagingLocked, op, LockedReason)
	}
	if c.sending {
		c.mu.Unlock()
		return apperr.New(apperr.KindConflict, op, "a send is already in progress")
	}
	c.sending = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	if _, err := c.svc.deliver(ctx, conv, msg); err != nil {
		if apperr.IsKind(err, apperr.KindMessagingLocked) {
			c.setDecision(lockedDecision(conv.LinkedBidID()))
		}
		return err
	}
	return nil
}

func (c *Chat) MarkRead(ctx context.Context, ids []string) error {
	return c.svc.MarkRead(ctx, ids)
}

// Refresh reloads the conversation and re-evaluates the unlock decision.
func (c *Chat) Refresh(ctx context.Context) (Decision, error) {
	conv, err := c.svc.store.GetConversation(ctx, c.stream.ConversationID())
	if err != nil {
		return c.Decision(), err
	}
	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
	c.evaluate(ctx)
	return c.Decision(), nil
}

func (c *Chat) evaluate(ctx context.Context) {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()

	d, err := c.svc.policy.Evaluate(ctx, conv)
	if err != nil {
		c.svc.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("unlock evaluation failed")
		return
	}
	c.setDecision(d)
}

func (c *Chat) setDecision(d Decision) {
	c.mu.Lock()
	flipped := c.decision.Unlocked != d.Unlocked || c.decision.BidID != d.BidID
	c.decision = d
	c.mu.Unlock()
	if flipped {
		select {
		case c.lockChanged <- struct{}{}:
		default:
		}
	}
}

// bidWatch holds the subscription to the currently linked bid row.
type bidWatch struct {
	chat  *Chat
	bidID string
	sub   realtime.Subscription
}

func (w *bidWatch) follow(id string) {
	if id == w.bidID && (id == "" || w.sub != nil) {
		return
	}
	w.stop()
	w.bidID = id
	if id == "" {
		return
	}
	sub, err := w.chat.svc.feed.Subscribe(w.chat.ctx, realtime.Filter{
		Table:  tableBids,
		Event:  realtime.EventUpdate,
		Column: "id",
		Value:  id,
	})
	if err != nil {
		w.chat.svc.logger.Warn().Err(err).Str("bid_id", id).Msg("bid feed unavailable")
		return
	}
	w.sub = sub
}

func (w *bidWatch) changes() <-chan realtime.Change {
	if w.sub == nil {
		return nil
	}
	return w.sub.Changes()
}

func (w *bidWatch) stop() {
	if w.sub != nil {
		w.sub.Close()
		w.sub = nil
	}
}

// watch follows the conversation row and, while linked, the bid row.
func (c *Chat) watch(convSub realtime.Subscription, bids *bidWatch) {
	defer c.wg.Done()
	defer convSub.Close()
	defer bids.stop()

	id := c.stream.ConversationID()
	for {
		select {
		case <-c.ctx.Done():
			return
		case change, ok := <-convSub.Changes():
			if !ok {
				return
			}
			var updated models.Conversation
			if err := change.Decode(&updated); err != nil || updated.ID != id {
				continue
			}
			c.mu.Lock()
			updated.UnreadCount = c.conv.UnreadCount
			c.conv = &updated
			c.mu.Unlock()
			bids.follow(updated.LinkedBidID())
			c.evaluate(c.ctx)
		case _, ok := <-bids.changes():
			if !ok {
				bids.sub = nil
				continue
			}
			c.evaluate(c.ctx)
		}
	}
}

// Close tears down the stream and the watchers.
func (c *Chat) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.stream.Close()
}
