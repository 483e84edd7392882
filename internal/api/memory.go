package api

import (
	"context"
	"strings"
	"sync"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/attachments"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/memstore"
	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/notifications"
	"gearhead-backend/internal/realtime"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const demoTokenTTL = 3600

// MemoryBackend serves everything from process memory. It backs demo
// mode and the handler tests.
type MemoryBackend struct {
	Store   *memstore.Store
	Hub     *realtime.Hub
	Objects *memstore.Objects

	cfg      *config.Config
	notifier *notifications.Notifier
	logger   zerolog.Logger

	mu       sync.Mutex
	accounts map[string]demoAccount
	tokens   map[string]auth.Session
}

type demoAccount struct {
	id       string
	email    string
	password string
}

func NewMemoryBackend(cfg *config.Config, logger zerolog.Logger) *MemoryBackend {
	hub := realtime.NewHub(64, logger)
	store := memstore.New(hub)
	return &MemoryBackend{
		Store:    store,
		Hub:      hub,
		Objects:  memstore.NewObjects("http://localhost:"+cfg.Port, attachments.Buckets()...),
		cfg:      cfg,
		notifier: notifications.NewNotifier(logger, notifications.NewStoreChannel(store)),
		logger:   logger,
		accounts: make(map[string]demoAccount),
		tokens:   make(map[string]auth.Session),
	}
}

// AddUser registers a demo account and its profile, returning the user id.
func (b *MemoryBackend) AddUser(email, password, displayName string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[email]; ok {
		return acc.id
	}
	id := uuid.NewString()
	b.accounts[email] = demoAccount{id: id, email: email, password: password}
	b.Store.PutProfile(models.Profile{ID: id, Email: email, DisplayName: displayName})
	return id
}

// IssueToken returns an access token for userID without a password.
func (b *MemoryBackend) IssueToken(userID, email string) string {
	token := uuid.NewString()
	b.mu.Lock()
	b.tokens[token] = auth.Session{UserID: userID, Email: email, AccessToken: token}
	b.mu.Unlock()
	return token
}

func (b *MemoryBackend) Verify(ctx context.Context, token string) (auth.Session, error) {
	b.mu.Lock()
	s, ok := b.tokens[strings.TrimSpace(token)]
	b.mu.Unlock()
	if !ok {
		return auth.Session{}, apperr.New(apperr.KindNotAuthenticated, "auth.verify", "invalid access token")
	}
	return s, nil
}

func (b *MemoryBackend) SignIn(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	b.mu.Lock()
	acc, ok := b.accounts[email]
	b.mu.Unlock()
	if !ok || acc.password != password {
		return nil, apperr.New(apperr.KindNotAuthenticated, "auth.sign_in", "invalid credentials")
	}
	return &models.LoginResponse{
		AccessToken: b.IssueToken(acc.id, acc.email),
		ExpiresIn:   demoTokenTTL,
		UserID:      acc.id,
	}, nil
}

func (b *MemoryBackend) Messaging(s auth.Session, feed realtime.Feed) *messaging.Service {
	if feed == nil {
		feed = b.Hub
	}
	policy := messaging.NewPolicy(b.Store, b.cfg.Messaging.UnlockFailClosed, b.logger)
	return messaging.New(s, b.Store, feed, policy,
		messaging.WithLogger(b.logger),
		messaging.WithNotifier(b.notifier),
	)
}

func (b *MemoryBackend) Feed(ctx context.Context, s auth.Session) (realtime.Feed, func(), error) {
	return b.Hub, func() {}, nil
}

func (b *MemoryBackend) Notifications(s auth.Session) *notifications.Service {
	return notifications.NewService(s, b.Store, b.logger)
}

func (b *MemoryBackend) Attachments(s auth.Session) *attachments.Pipeline {
	return attachments.New(b.Objects, b.Objects, attachmentLimits(b.cfg), attachments.WithLogger(b.logger))
}

func (b *MemoryBackend) Uploads() UploadIssuer {
	return b.Objects
}

// Close stops every live feed.
func (b *MemoryBackend) Close() {
	b.Hub.Close()
}
