package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

var ErrHubClosed = errors.New("realtime: hub closed")

// Hub is an in-process Feed. Publishers push changes, every matching
// subscription receives them in publish order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*hubSub]struct{}
	buffer int
	closed bool
	logger zerolog.Logger
}

func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[*hubSub]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

func (h *Hub) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	s := &hubSub{
		hub:    h,
		filter: f,
		ch:     make(chan Change, h.buffer),
		done:   make(chan struct{}),
	}
	h.subs[s] = struct{}{}
	return s, nil
}

// Publish delivers c to matching subscribers. A full subscriber is waited
// on for a bounded time and then skipped.
func (h *Hub) Publish(c Change) {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.CommitTimestamp.IsZero() {
		c.CommitTimestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		if !s.filter.Matches(c) {
			continue
		}
		select {
		case s.ch <- c:
			continue
		case <-s.done:
			continue
		default:
		}
		timer := time.NewTimer(publishTimeout)
		select {
		case s.ch <- c:
		case <-s.done:
		case <-timer.C:
			h.logger.Error().Str("table", c.Table).Msg("realtime change dropped: subscriber full")
		}
		timer.Stop()
	}
}

// PublishRow marshals row and publishes it as a change on table.
func (h *Hub) PublishRow(table string, typ EventType, row, old interface{}) error {
	rec, err := json.Marshal(row)
	if err != nil {
		return err
	}
	c := Change{Type: typ, Table: table, Record: rec}
	if old != nil {
		if c.OldRecord, err = json.Marshal(old); err != nil {
			return err
		}
	}
	h.Publish(c)
	return nil
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.finish(ErrHubClosed)
		delete(h.subs, s)
	}
}

func (h *Hub) remove(s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.finish(nil)
	}
}

type hubSub struct {
	hub    *Hub
	filter Filter
	ch     chan Change
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *hubSub) Changes() <-chan Change { return s.ch }

func (s *hubSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *hubSub) Close() error {
	s.once.Do(func() { close(s.done) })
	s.hub.remove(s)
	return nil
}

// finish is called with the hub lock held.
func (s *hubSub) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	close(s.ch)
}
