package database

import (
	"context"
	"os"
	"strings"
	"testing"

	"gearhead-backend/internal/config"
	"gearhead-backend/internal/supabase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreOrderedAndNamed(t *testing.T) {
	seen := map[string]bool{}
	index := map[string]int{}
	for i, m := range Migrations() {
		assert.NotEmpty(t, strings.TrimSpace(m.SQL), m.Name)
		assert.False(t, seen[m.Name], "duplicate migration %s", m.Name)
		seen[m.Name] = true
		index[m.Name] = i
	}
	assert.Less(t, index["bids"], index["conversations"])
	assert.Less(t, index["conversations"], index["messages"])
	assert.Less(t, index["unlock_function"], index["unlock_trigger"])
	assert.Less(t, index["messages"], index["row_level_security"])
	assert.Less(t, index["row_level_security"], index["client_write_grants"])
	assert.Less(t, index["touch_trigger"], index["immutable_columns_trigger"])
}

func TestClientsCannotUnlockThemselves(t *testing.T) {
	// Bids are readable by their parties and writable by the service role only.
	assert.Contains(t, enableRowLevelSecurity, "ALTER TABLE public.bids ENABLE ROW LEVEL SECURITY")
	assert.Contains(t, enableRowLevelSecurity, "CREATE POLICY bids_party_select ON public.bids\n\tFOR SELECT")
	assert.NotRegexp(t, `ON public\.bids\s+FOR (INSERT|UPDATE|DELETE|ALL)`, enableRowLevelSecurity)
	assert.Contains(t, restrictClientWrites, "REVOKE INSERT, UPDATE, DELETE ON public.bids FROM anon, authenticated")

	// New conversations start unlinked.
	assert.Contains(t, enableRowLevelSecurity, "bid_id IS NULL AND thread_id IS NULL")
	assert.Contains(t, restrictClientWrites, "GRANT INSERT (participant_ids) ON public.conversations")
}

func TestClientUpdatesAreLimitedToMutableColumns(t *testing.T) {
	tests := []struct {
		table   string
		allowed string
		frozen  []string
	}{
		{"conversations", "last_message, last_message_at, updated_at", []string{"participant_ids", "bid_id", "thread_id"}},
		{"messages", "read_at", []string{"conversation_id", "sender_id", "content", "message_type", "metadata", "created_at"}},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			assert.Contains(t, restrictClientWrites, "REVOKE INSERT, UPDATE, DELETE ON public."+tt.table+" FROM anon, authenticated")
			assert.Contains(t, restrictClientWrites, "GRANT UPDATE ("+tt.allowed+") ON public."+tt.table+" TO authenticated")
			assert.Contains(t, createImmutableColumnsTrigger, "BEFORE UPDATE ON public."+tt.table)
			for _, col := range tt.frozen {
				assert.Contains(t, createImmutableColumnsTrigger, "NEW."+col+" IS DISTINCT FROM OLD."+col)
			}
		})
	}
	assert.Contains(t, createImmutableColumnsTrigger, "ERRCODE = '42501'")
}

func TestLockTriggerRaisesBoundaryCode(t *testing.T) {
	assert.Contains(t, createUnlockTrigger, "ERRCODE = '"+supabase.LockedSQLState+"'")
	assert.Contains(t, createUnlockFunction, "bid_id_param")
	assert.Contains(t, createUnlockFunction, supabase.UnlockFunction)
	assert.Contains(t, createConversationsTable, "UNIQUE (participant_key)")
}

func TestMigrationsAgainstDatabase(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}
	cfg, err := config.Load()
	require.NoError(t, err)

	ctx := context.Background()
	db, err := NewConnection(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(ctx, db))
	// A second run must be a no-op.
	require.NoError(t, RunMigrations(ctx, db))

	for _, c := range db.Inspect(ctx) {
		if c.Name == "realtime publication messages" {
			continue
		}
		assert.True(t, c.OK, "%s: %s", c.Name, c.Err)
	}

	var grantable bool
	err = db.QueryRow(ctx,
		`SELECT has_column_privilege('authenticated', 'public.conversations', 'bid_id', 'UPDATE')`).Scan(&grantable)
	if err == nil {
		assert.False(t, grantable, "authenticated can relink conversations")
	}
	err = db.QueryRow(ctx,
		`SELECT has_column_privilege('authenticated', 'public.messages', 'content', 'UPDATE')`).Scan(&grantable)
	if err == nil {
		assert.False(t, grantable, "authenticated can rewrite messages")
	}
	err = db.QueryRow(ctx,
		`SELECT has_table_privilege('authenticated', 'public.bids', 'UPDATE')`).Scan(&grantable)
	if err == nil {
		assert.False(t, grantable, "authenticated can change bid status")
	}
}
