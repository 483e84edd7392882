package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	backend Backend
}

func NewNotificationHandler(backend Backend) *NotificationHandler {
	return &NotificationHandler{backend: backend}
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	feed, err := h.backend.Notifications(session(c)).List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

type notificationsReadRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

// MarkRead acknowledges the listed notifications, or all of them.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req notificationsReadRequest
	if err := bind(c, &req); err != nil {
		respondError(c, err)
		return
	}

	svc := h.backend.Notifications(session(c))
	var err error
	if req.All {
		err = svc.MarkAllRead(c.Request.Context())
	} else {
		err = svc.MarkRead(c.Request.Context(), req.IDs)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
