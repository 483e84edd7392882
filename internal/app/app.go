package app

import (
	"context"
	"net/http"
	"time"

	"gearhead-backend/internal/api"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/database"
	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/notifications"
	"gearhead-backend/internal/supabase"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const httpTimeout = 30 * time.Second

// App holds the wired gateway: one backend, the send guard and whatever
// must be closed on shutdown.
type App struct {
	Config  *config.Config
	Backend api.Backend
	Guard   api.SendGuard
	Demo    *api.MemoryBackend

	logger  zerolog.Logger
	closers []func()
}

// New wires the gateway for cfg. Demo mode needs no external service.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	if cfg.DemoMode {
		demo := api.NewMemoryBackend(cfg, logger)
		a.Demo = demo
		a.Backend = demo
		a.closers = append(a.closers, demo.Close)
	} else {
		backend, err := a.supabaseBackend(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Backend = backend
	}

	guard, err := a.sendGuard(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Guard = guard
	return a, nil
}

func (a *App) supabaseBackend(ctx context.Context) (*api.SupabaseBackend, error) {
	cfg := a.Config
	httpClient := &http.Client{Timeout: httpTimeout}
	client := supabase.NewClient(cfg.Supabase, httpClient)

	n, err := a.notifier(ctx, client)
	if err != nil {
		return nil, err
	}
	var notifier messaging.Notifier
	if n != nil {
		notifier = n
	}
	return api.NewSupabaseBackend(ctx, cfg, httpClient, notifier, a.logger)
}

// notifier builds the fan-out channels. Every channel writes with the
// service role because the sender cannot write rows for the recipient.
func (a *App) notifier(ctx context.Context, client *supabase.Client) (*notifications.Notifier, error) {
	cfg := a.Config
	if !client.HasServiceRole() {
		a.logger.Warn().Msg("SUPABASE_SERVICE_ROLE_KEY not set, new-message notifications disabled")
		return nil, nil
	}
	repo := supabase.NewNotificationRepo(client.AsServiceRole())
	channels := []notifications.Channel{notifications.NewStoreChannel(repo)}

	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := notifications.NewFirebaseMessaging(ctx, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, err
		}
		channels = append(channels, notifications.NewPushChannel(fcm, repo))
		a.logger.Info().Msg("Push notifications enabled")
	}
	if cfg.Mailgun.Domain != "" {
		channels = append(channels, notifications.NewEmailChannel(notifications.NewMailgunMailer(cfg.Mailgun), repo))
		a.logger.Info().Str("domain", cfg.Mailgun.Domain).Msg("Email notifications enabled")
	}
	return notifications.NewNotifier(a.logger, channels...), nil
}

func (a *App) sendGuard(ctx context.Context) (api.SendGuard, error) {
	rdb, err := database.NewRedis(ctx, a.Config.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "send guard")
	}
	if rdb == nil {
		return api.NewMemorySendGuard(a.Config.Messaging.SendGuardTTL), nil
	}
	a.closers = append(a.closers, func() { rdb.Close() })
	return api.NewRedisSendGuard(rdb, a.Config.Messaging.SendGuardTTL), nil
}

// Router builds the gin engine with every route mounted.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	api.SetupRoutes(router, a.Backend, a.Config, a.Guard, a.logger)
	return router
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
