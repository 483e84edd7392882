package main

import (
	"context"
	"fmt"
	"time"

	"gearhead-backend/internal/attachments"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/database"
	"gearhead-backend/internal/realtime"
	"gearhead-backend/pkg/logger"

	"github.com/spf13/cobra"
)

const probeTimeout = 5 * time.Second

type tally struct {
	passed, failed, warned int
}

func (t *tally) pass(check, detail string) {
	fmt.Printf("  [PASS] %-36s %s\n", check, detail)
	t.passed++
}

func (t *tally) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-36s %s\n", check, detail)
	t.failed++
}

func (t *tally) warn(check, detail string) {
	fmt.Printf("  [WARN] %-36s %s\n", check, detail)
	t.warned++
}

func doctorCmd() *cobra.Command {
	var skipDB bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks against the configured project",
		Long: `Verifies that the schema, the unlock function, the storage buckets and
the realtime endpoint the gateway depends on are in place. Reports
pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("chatctl doctor v%s\n\n", version)
			t := &tally{}

			cfg, err := loadConfig()
			if err != nil {
				t.fail("Config", err.Error())
				return fmt.Errorf("%d check(s) failed", t.failed)
			}
			t.pass("Config", cfg.Supabase.URL)

			ctx := cmd.Context()
			if skipDB {
				t.warn("Database", "skipped")
			} else {
				checkDatabase(ctx, cfg, t)
			}
			checkBuckets(ctx, cfg, t)
			checkRealtime(ctx, cfg, t)
			checkRedis(ctx, cfg, t)

			fmt.Printf("\n%d passed, %d failed, %d warnings\n", t.passed, t.failed, t.warned)
			if t.failed > 0 {
				return fmt.Errorf("%d check(s) failed", t.failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipDB, "skip-db", false, "skip the direct database checks")
	return cmd
}

func checkDatabase(ctx context.Context, cfg *config.Config, t *tally) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	db, err := database.NewConnection(ctx, cfg)
	if err != nil {
		t.fail("Database", err.Error())
		return
	}
	defer db.Close()
	t.pass("Database", "connected")

	for _, c := range db.Inspect(ctx) {
		switch {
		case c.OK:
			t.pass(c.Name, "ok")
		case c.Name == "realtime publication messages":
			// Self-hosted Postgres has no supabase_realtime publication.
			t.warn(c.Name, c.Err)
		default:
			t.fail(c.Name, c.Err+" (run 'chatctl migrate')")
		}
	}
}

func checkBuckets(ctx context.Context, cfg *config.Config, t *tally) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		t.fail("Storage", err.Error())
		return
	}
	if cfg.Storage.Backend == "supabase" && cfg.Supabase.ServiceRoleKey == "" {
		t.warn("Storage buckets", "SUPABASE_SERVICE_ROLE_KEY not set, cannot list buckets")
		return
	}
	uploads := backend.Uploads()
	for _, bucket := range attachments.Buckets() {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		ok, err := uploads.BucketExists(ctx, bucket)
		cancel()
		switch {
		case err != nil:
			t.fail("bucket "+bucket, err.Error())
		case !ok:
			t.fail("bucket "+bucket, "missing")
		default:
			t.pass("bucket "+bucket, cfg.Storage.Backend)
		}
	}
}

func checkRealtime(ctx context.Context, cfg *config.Config, t *tally) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client, err := realtime.Dial(ctx, cfg.Supabase.RealtimeURL(), realtime.Options{
		APIKey: cfg.Supabase.AnonKey,
		Logger: logger.Component("doctor"),
	})
	if err != nil {
		t.fail("Realtime", err.Error())
		return
	}
	defer client.Close()

	sub, err := client.Subscribe(ctx, realtime.Filter{Table: "conversations"})
	if err != nil {
		t.fail("Realtime subscribe", err.Error())
		return
	}
	sub.Close()
	t.pass("Realtime", cfg.Supabase.RealtimeURL())
}

func checkRedis(ctx context.Context, cfg *config.Config, t *tally) {
	if cfg.Redis.Addr == "" {
		t.warn("Redis", "not configured, send guard is per-process")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		t.fail("Redis", err.Error())
		return
	}
	rdb.Close()
	t.pass("Redis", cfg.Redis.Addr)
}
