package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 * 1024
)

// Frame types.
const (
	frameSnapshot = "snapshot"
	frameMessage  = "message"
	frameLock     = "lock"
	frameStatus   = "status"
	frameAck      = "ack"
	frameError    = "error"
	frameInbox    = "conversations"

	frameSend = "send"
	frameRead = "read"
)

// wsFrame is one JSON frame on the chat socket, in either direction.
type wsFrame struct {
	Type string `json:"type"`
	// Ref is chosen by the client and echoed on its ack or error.
	Ref string `json:"ref,omitempty"`

	Event    messaging.EventKind    `json:"event,omitempty"`
	Message  *models.Message        `json:"message,omitempty"`
	Messages []models.Message       `json:"messages,omitempty"`
	Status   messaging.StreamStatus `json:"status,omitempty"`
	Lock     *messaging.Decision    `json:"lock,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Kind     string                 `json:"kind,omitempty"`

	Conversations []models.Conversation `json:"conversations,omitempty"`
	Available     *bool                 `json:"available,omitempty"`

	Content     string                 `json:"content,omitempty"`
	MessageType models.MessageType     `json:"message_type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	MessageIDs  []string               `json:"message_ids,omitempty"`
}

func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

type chatSocket struct {
	userID string
	conn   *websocket.Conn
	chat   *messaging.Chat
	h      *ChatHandler
	ctx    context.Context
	done   chan struct{}
	write  sync.Mutex
}

// ChatSocket opens the conversation for the caller and relays its stream,
// lock changes and status over a websocket. Clients send and mark read
// through the same socket.
func (h *ChatHandler) ChatSocket(upgrader websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session(c)
		ctx := c.Request.Context()

		feed, release, err := h.backend.Feed(ctx, sess)
		if err != nil {
			h.logger.Warn().Err(err).Msg("realtime unavailable, chat will not update live")
			feed, release = realtime.Offline{}, func() {}
		}

		chat, err := h.backend.Messaging(sess, feed).Open(ctx, c.Param("id"))
		if err != nil {
			release()
			respondError(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			chat.Close()
			release()
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		s := &chatSocket{
			userID: sess.UserID,
			conn:   conn,
			chat:   chat,
			h:      h,
			ctx:    context.WithoutCancel(ctx),
			done:   make(chan struct{}),
		}
		h.logger.Debug().Str("conversation_id", c.Param("id")).Str("user_id", sess.UserID).Msg("chat socket connected")

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.writeLoop()
		}()
		s.readLoop()

		close(s.done)
		wg.Wait()
		chat.Close()
		release()
		conn.Close()
	}
}

func (s *chatSocket) send(f wsFrame) error {
	s.write.Lock()
	defer s.write.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(f)
}

func (s *chatSocket) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	stream := s.chat.Stream()
	if !s.flush(stream) {
		return
	}
	select {
	case <-s.chat.LockChanged():
	default:
	}
	d := s.chat.Decision()
	if s.send(wsFrame{Type: frameLock, Lock: &d}) != nil {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-stream.Changed():
			if !s.flush(stream) {
				return
			}
		case <-s.chat.LockChanged():
			d := s.chat.Decision()
			if s.send(wsFrame{Type: frameLock, Lock: &d}) != nil {
				return
			}
		case <-ticker.C:
			s.write.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.write.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// flush forwards every queued stream event. It reports false once the
// socket can no longer be written.
func (s *chatSocket) flush(stream *messaging.Stream) bool {
	for _, e := range stream.Drain() {
		if s.send(streamFrame(e)) != nil {
			return false
		}
	}
	return true
}

func streamFrame(e messaging.StreamEvent) wsFrame {
	switch e.Kind {
	case messaging.EventSnapshot:
		msgs := e.Messages
		if msgs == nil {
			msgs = []models.Message{}
		}
		return wsFrame{Type: frameSnapshot, Messages: msgs, Status: e.Status, Error: e.Error}
	case messaging.EventStatus:
		return wsFrame{Type: frameStatus, Status: e.Status}
	}
	return wsFrame{Type: frameMessage, Event: e.Kind, Message: e.Message}
}

func (s *chatSocket) readLoop() {
	s.conn.SetReadLimit(wsMaxMessage)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.h.logger.Warn().Err(err).Msg("chat socket read failed")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.reply(f.Ref, apperr.Wrap(err, apperr.KindValidation, "api.chat_socket", "invalid frame"))
			continue
		}
		switch f.Type {
		case frameSend:
			s.reply(f.Ref, s.handleSend(f))
		case frameRead:
			s.reply(f.Ref, s.chat.MarkRead(s.ctx, f.MessageIDs))
		default:
			s.reply(f.Ref, apperr.New(apperr.KindValidation, "api.chat_socket", "unknown frame type "+f.Type))
		}
	}
}

func (s *chatSocket) handleSend(f wsFrame) error {
	key := sendKey(s.userID, s.chat.Conversation().ID, f.Ref, f.Content)
	ok, err := s.h.guard.Acquire(s.ctx, key)
	if err != nil {
		s.h.logger.Warn().Err(err).Msg("send guard unavailable, sending unguarded")
		ok = true
	}
	if !ok {
		return apperr.New(apperr.KindConflict, "api.send", "duplicate message, already sending")
	}
	err = s.chat.Send(s.ctx, messaging.Draft{Content: f.Content, Type: f.MessageType, Metadata: f.Metadata})
	if err != nil {
		s.h.guard.Release(s.ctx, key)
	}
	return err
}

func (s *chatSocket) reply(ref string, err error) {
	if err == nil {
		s.send(wsFrame{Type: frameAck, Ref: ref})
		return
	}
	kind := apperr.KindOf(err)
	msg := apperr.Message(err)
	if kind == apperr.KindInternal {
		msg = http.StatusText(http.StatusInternalServerError)
	}
	s.send(wsFrame{Type: frameError, Ref: ref, Error: msg, Kind: kind.String()})
}

// InboxSocket pushes the caller's conversation list, and pushes it again
// whenever a conversation or one of its messages changes. The socket is
// write-only; client frames are read and dropped.
func (h *ChatHandler) InboxSocket(upgrader websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session(c)
		ctx := c.Request.Context()

		feed, release, err := h.backend.Feed(ctx, sess)
		if err != nil {
			h.logger.Warn().Err(err).Msg("realtime unavailable, conversation list will not update live")
			feed, release = realtime.Offline{}, func() {}
		}
		defer release()

		inbox, err := h.backend.Messaging(sess, feed).WatchConversations(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		defer inbox.Close()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadLimit(wsMaxMessage)
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				conn.SetReadDeadline(time.Now().Add(wsPongWait))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(f wsFrame) error {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(f)
		}
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		if send(inboxFrame(inbox)) != nil {
			return
		}
		for {
			select {
			case <-done:
				return
			case <-inbox.Changed():
				if send(inboxFrame(inbox)) != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if conn.WriteMessage(websocket.PingMessage, nil) != nil {
					return
				}
			}
		}
	}
}

func inboxFrame(inbox *messaging.Inbox) wsFrame {
	list := inbox.List()
	return wsFrame{
		Type:          frameInbox,
		Conversations: list.Conversations,
		Available:     &list.Available,
		Status:        inbox.Status(),
		Error:         list.Error,
	}
}
