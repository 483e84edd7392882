package database

import (
	"context"
)

// Check is the outcome of one schema check.
type Check struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Err  string `json:"error,omitempty"`
}

var requiredTables = []string{"conversations", "messages", "bids", "notifications", "device_tokens", "profiles"}

// Inspect reports whether the tables, the unlock function, the lock and
// column guard triggers and row level security are in place. A failed
// query is reported on its check, not returned.
func (db *Database) Inspect(ctx context.Context) []Check {
	var checks []Check
	for _, table := range requiredTables {
		var found bool
		err := db.Pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&found)
		checks = append(checks, check("table "+table, found, err))
	}

	var fn bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'fn_is_messaging_unlocked')`).Scan(&fn)
	checks = append(checks, check("function fn_is_messaging_unlocked", fn, err))

	var trg bool
	err = db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_messages_unlock')`).Scan(&trg)
	checks = append(checks, check("trigger trg_messages_unlock", trg, err))

	for _, table := range []string{"bids", "conversations", "messages"} {
		var rls bool
		err = db.Pool.QueryRow(ctx,
			`SELECT COALESCE((SELECT relrowsecurity FROM pg_class WHERE oid = to_regclass($1)), false)`,
			"public."+table).Scan(&rls)
		checks = append(checks, check("row level security "+table, rls, err))
	}

	var guard bool
	err = db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_messages_immutable')`).Scan(&guard)
	checks = append(checks, check("trigger trg_messages_immutable", guard, err))

	var pub bool
	err = db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_publication_tables WHERE pubname = 'supabase_realtime' AND tablename = 'messages')`).Scan(&pub)
	checks = append(checks, check("realtime publication messages", pub, err))
	return checks
}

func check(name string, ok bool, err error) Check {
	c := Check{Name: name, OK: ok && err == nil}
	if err != nil {
		c.Err = err.Error()
	} else if !ok {
		c.Err = "missing"
	}
	return c
}
