package api

import (
	"net/http"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/messaging"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type ChatHandler struct {
	backend Backend
	guard   SendGuard
	logger  zerolog.Logger
}

func NewChatHandler(backend Backend, guard SendGuard, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		backend: backend,
		guard:   guard,
		logger:  logger.With().Str("component", "chat_api").Logger(),
	}
}

func (h *ChatHandler) service(c *gin.Context) *messaging.Service {
	return h.backend.Messaging(session(c), nil)
}

type resolveRequest struct {
	ParticipantID string `json:"participant_id" binding:"required" conform:"trim"`
}

// ResolveConversation finds or creates the conversation with another member.
func (h *ChatHandler) ResolveConversation(c *gin.Context) {
	var req resolveRequest
	if err := bind(c, &req); err != nil {
		respondError(c, err)
		return
	}

	res, err := h.service(c).ResolveWith(c.Request.Context(), req.ParticipantID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == messaging.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	list, err := h.service(c).ListConversations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetMessages returns the conversation history and whether it could be read.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	history, err := h.service(c).History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *ChatHandler) GetUnlock(c *gin.Context) {
	decision, err := h.service(c).Unlock(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// idempotencyHeader carries a client-chosen id for one submission.
const idempotencyHeader = "Idempotency-Key"

// SendMessage stores a message. A repeated submission in quick succession
// is refused with 409. Submissions are told apart by Idempotency-Key when
// the client sends one, by content otherwise.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var draft messaging.Draft
	if err := bind(c, &draft); err != nil {
		respondError(c, err)
		return
	}

	conversationID := c.Param("id")
	sess := session(c)
	ctx := c.Request.Context()

	key := sendKey(sess.UserID, conversationID, c.GetHeader(idempotencyHeader), draft.Content)
	ok, err := h.guard.Acquire(ctx, key)
	if err != nil {
		h.logger.Warn().Err(err).Msg("send guard unavailable, sending unguarded")
		ok = true
	}
	if !ok {
		respondError(c, apperr.New(apperr.KindConflict, "api.send", "duplicate message, already sending"))
		return
	}

	msg, err := h.backend.Messaging(sess, nil).Send(ctx, conversationID, draft)
	if err != nil {
		h.guard.Release(ctx, key)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := bind(c, &req); err != nil {
		respondError(c, err)
		return
	}

	if err := h.service(c).MarkRead(c.Request.Context(), req.MessageIDs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
