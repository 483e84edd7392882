package api

import (
	"net/http"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/middleware"
	"gearhead-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/leebenson/conform"
	"github.com/rs/zerolog"
)

type Server struct {
	backend Backend
	config  *config.Config
	logger  zerolog.Logger
}

func NewServer(backend Backend, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		backend: backend,
		config:  cfg,
		logger:  logger,
	}
}

// bind decodes the JSON body into v and trims its strings.
func bind(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "api.bind", "invalid request body: "+err.Error())
	}
	if err := conform.Strings(v); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "api.bind", "invalid request body")
	}
	return nil
}

func respondError(c *gin.Context, err error) {
	middleware.RespondError(c, err)
}

func session(c *gin.Context) auth.Session {
	s, _ := middleware.Session(c)
	return s
}

func (s *Server) Health(c *gin.Context) {
	mode := "supabase"
	if s.config.DemoMode {
		mode = "demo"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gearhead-backend",
		"backend": mode,
	})
}

// Login exchanges email and password for a Supabase access token.
func (s *Server) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := bind(c, &req); err != nil {
		respondError(c, err)
		return
	}

	resp, err := s.backend.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Me returns the caller as seen by the auth middleware.
func (s *Server) Me(c *gin.Context) {
	sess := session(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id": sess.UserID,
		"email":   sess.Email,
	})
}
