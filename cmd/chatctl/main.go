package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"gearhead-backend/internal/api"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/config"
	"gearhead-backend/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	version     = "0.1.0"
	accessToken string // overridable via --token
	timeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "chatctl: operate the Gearhead messaging backend",
		Long:          "chatctl migrates and diagnoses the Supabase project behind the gateway, and drives conversations from a terminal.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&accessToken, "token", "t", os.Getenv("GEARHEAD_TOKEN"), "Supabase access token (default: $GEARHEAD_TOKEN)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout for one-shot commands")

	root.AddCommand(migrateCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(tailCmd())
	root.AddCommand(seedUsersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the gateway configuration. chatctl always talks to a
// real project, so demo mode is refused.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}
	logger.Init(cfg.Env)
	if cfg.DemoMode {
		return nil, errors.New("DEMO_MODE is set; chatctl needs a Supabase project")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func newBackend(ctx context.Context, cfg *config.Config) (*api.SupabaseBackend, error) {
	return api.NewSupabaseBackend(ctx, cfg, &http.Client{Timeout: timeout}, nil, logger.Component("chatctl"))
}

// signedIn verifies --token and returns the caller's session.
func signedIn(ctx context.Context, backend *api.SupabaseBackend) (auth.Session, error) {
	if accessToken == "" {
		return auth.Session{}, errors.New("no access token: run 'chatctl login' and pass --token or set GEARHEAD_TOKEN")
	}
	return backend.Verify(ctx, accessToken)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
