package api

import (
	"context"
	"net/http"

	"gearhead-backend/internal/attachments"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/notifications"
	"gearhead-backend/internal/realtime"
	"gearhead-backend/internal/storage"
	"gearhead-backend/internal/supabase"

	"github.com/rs/zerolog"
)

// Backend builds the services for one caller. Handlers never hold a
// service across requests.
type Backend interface {
	Verify(ctx context.Context, token string) (auth.Session, error)
	SignIn(ctx context.Context, email, password string) (*models.LoginResponse, error)

	Messaging(s auth.Session, feed realtime.Feed) *messaging.Service
	// Feed opens a live change feed for s. The returned func releases it.
	Feed(ctx context.Context, s auth.Session) (realtime.Feed, func(), error)
	Notifications(s auth.Session) *notifications.Service
	Attachments(s auth.Session) *attachments.Pipeline
	// Uploads issues tickets with the service credentials.
	Uploads() UploadIssuer
}

type UploadIssuer interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateSignedUpload(ctx context.Context, bucket, path string) (*storage.UploadTicket, error)
}

func attachmentLimits(cfg *config.Config) attachments.Limits {
	return attachments.Limits{
		MaxBytes:     cfg.Attachments.MaxBytes,
		MaxWidth:     cfg.Attachments.MaxWidth,
		MaxPixels:    cfg.Attachments.MaxPixels,
		Quality:      cfg.Attachments.Quality,
		SignedURLTTL: cfg.Storage.SignedURLTTL,
	}
}

// SupabaseBackend acts as the caller against a Supabase project, so
// row-level security decides what each request may see.
type SupabaseBackend struct {
	cfg      *config.Config
	client   *supabase.Client
	verifier *auth.Verifier
	objects  *storage.SupabaseStorage
	s3       *storage.S3Storage
	endpoint *storage.EndpointIssuer
	notifier messaging.Notifier
	logger   zerolog.Logger
}

func NewSupabaseBackend(ctx context.Context, cfg *config.Config, httpClient *http.Client, notifier messaging.Notifier, logger zerolog.Logger) (*SupabaseBackend, error) {
	client := supabase.NewClient(cfg.Supabase, httpClient)
	b := &SupabaseBackend{
		cfg:      cfg,
		client:   client,
		verifier: auth.NewVerifier(cfg.Supabase.JWTSecret, auth.SupabaseRemote(client)),
		objects:  storage.NewSupabaseStorage(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.ServiceRoleKey, httpClient),
		notifier: notifier,
		logger:   logger,
	}
	if cfg.Storage.Backend == "s3" {
		s3, err := storage.NewS3Storage(ctx, cfg.Storage, cfg.Supabase.URL)
		if err != nil {
			return nil, err
		}
		b.s3 = s3
	}
	if endpoint := cfg.Supabase.SignedUploadEndpoint(); endpoint != "" {
		b.endpoint = storage.NewEndpointIssuer(endpoint, cfg.Supabase.AnonKey, httpClient)
	}
	return b, nil
}

// Client is the anon-scoped project client.
func (b *SupabaseBackend) Client() *supabase.Client {
	return b.client
}

func (b *SupabaseBackend) Verify(ctx context.Context, token string) (auth.Session, error) {
	return b.verifier.Verify(ctx, token)
}

func (b *SupabaseBackend) SignIn(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	out, err := b.client.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return &models.LoginResponse{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    out.ExpiresIn,
		UserID:       out.User.ID,
	}, nil
}

func (b *SupabaseBackend) Messaging(s auth.Session, feed realtime.Feed) *messaging.Service {
	scoped := b.client.WithAccessToken(s.AccessToken)
	policy := messaging.NewPolicy(supabase.NewBidRepo(scoped), b.cfg.Messaging.UnlockFailClosed, b.logger)
	opts := []messaging.Option{messaging.WithLogger(b.logger)}
	if b.notifier != nil {
		opts = append(opts, messaging.WithNotifier(b.notifier))
	}
	return messaging.New(s, supabase.NewMessagingRepo(scoped), feed, policy, opts...)
}

func (b *SupabaseBackend) Feed(ctx context.Context, s auth.Session) (realtime.Feed, func(), error) {
	client, err := realtime.Dial(ctx, b.cfg.Supabase.RealtimeURL(), realtime.Options{
		APIKey:      b.cfg.Supabase.AnonKey,
		AccessToken: s.AccessToken,
		Logger:      b.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, func() { client.Close() }, nil
}

func (b *SupabaseBackend) Notifications(s auth.Session) *notifications.Service {
	repo := supabase.NewNotificationRepo(b.client.WithAccessToken(s.AccessToken))
	return notifications.NewService(s, repo, b.logger)
}

func (b *SupabaseBackend) Attachments(s auth.Session) *attachments.Pipeline {
	var (
		store  attachments.ObjectStore
		issuer attachments.TicketIssuer
	)
	switch {
	case b.s3 != nil:
		store, issuer = b.s3, b.s3
	default:
		store = b.objects.WithAccessToken(s.AccessToken)
		if b.client.HasServiceRole() {
			issuer = b.objects.AsServiceRole()
		}
	}
	if b.endpoint != nil {
		issuer = b.endpoint.WithAccessToken(s.AccessToken)
	}
	return attachments.New(store, issuer, attachmentLimits(b.cfg), attachments.WithLogger(b.logger))
}

func (b *SupabaseBackend) Uploads() UploadIssuer {
	if b.s3 != nil {
		return b.s3
	}
	return b.objects.AsServiceRole()
}
