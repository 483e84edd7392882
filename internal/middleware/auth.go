package middleware

import (
	"context"
	"net/http"
	"strings"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/auth"
	"gearhead-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

// TokenVerifier turns a bearer token into a session.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Session, error)
}

// AuthMiddleware requires a valid Supabase access token and stores the
// resulting session on both the gin context and the request context.
// Websocket upgrades may pass the token as ?access_token= since browsers
// cannot set headers on them.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			RespondError(c, err)
			return
		}

		session, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			RespondError(c, err)
			return
		}

		c.Set(sessionKey, session)
		c.Set("userId", session.UserID)
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), session))
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			if t := c.Query("access_token"); t != "" {
				return t, nil
			}
		}
		return "", apperr.New(apperr.KindNotAuthenticated, "middleware.auth", "Authorization header required")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.New(apperr.KindNotAuthenticated, "middleware.auth", "Invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// Session returns the caller set by AuthMiddleware.
func Session(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return auth.Session{}, false
	}
	s, ok := v.(auth.Session)
	return s, ok
}

// RespondError writes the error body and aborts the chain.
func RespondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	msg := apperr.Message(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = http.StatusText(status)
	} else if msg == "" {
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": msg,
		"kind":  kind.String(),
	})
}
