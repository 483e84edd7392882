package database

const createProfilesTable = `
CREATE TABLE IF NOT EXISTS public.profiles (
	id UUID PRIMARY KEY,
	email TEXT,
	display_name TEXT,
	avatar_url TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createBidsTable = `
CREATE TABLE IF NOT EXISTS public.bids (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	status TEXT NOT NULL DEFAULT 'open'
		CHECK (status IN ('open', 'accepted', 'closed', 'completed', 'rejected')),
	bidder_id UUID,
	seller_id UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// participant_key backs the one-conversation-per-pair rule regardless of
// the order participants were given in.
const createConversationsTable = `
CREATE TABLE IF NOT EXISTS public.conversations (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	participant_ids UUID[] NOT NULL CHECK (cardinality(participant_ids) = 2),
	participant_key TEXT GENERATED ALWAYS AS (
		LEAST(participant_ids[1], participant_ids[2])::text || ':' ||
		GREATEST(participant_ids[1], participant_ids[2])::text
	) STORED,
	last_message TEXT,
	last_message_at TIMESTAMPTZ,
	bid_id UUID REFERENCES public.bids(id) ON DELETE SET NULL,
	thread_id UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT conversations_participant_key UNIQUE (participant_key)
);`

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS public.messages (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	conversation_id UUID NOT NULL REFERENCES public.conversations(id) ON DELETE CASCADE,
	sender_id UUID NOT NULL,
	content TEXT NOT NULL CHECK (length(btrim(content)) > 0),
	message_type TEXT NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'image', 'file')),
	metadata JSONB,
	read_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
ALTER TABLE public.messages REPLICA IDENTITY FULL;`

const createNotificationsTable = `
CREATE TABLE IF NOT EXISTS public.notifications (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	type TEXT NOT NULL,
	title TEXT,
	message TEXT,
	payload JSONB,
	read_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createDeviceTokensTable = `
CREATE TABLE IF NOT EXISTS public.device_tokens (
	user_id UUID NOT NULL,
	token TEXT NOT NULL,
	platform TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, token)
);`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_conversations_participants ON public.conversations USING GIN (participant_ids);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON public.conversations(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON public.messages(conversation_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON public.messages(conversation_id) WHERE read_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON public.notifications(user_id, created_at DESC);`

const createUnlockFunction = `
CREATE OR REPLACE FUNCTION public.fn_is_messaging_unlocked(bid_id_param UUID)
RETURNS BOOLEAN
LANGUAGE sql
STABLE
SECURITY DEFINER
SET search_path = public
AS $$
	SELECT EXISTS (
		SELECT 1 FROM public.bids
		WHERE id = bid_id_param AND status IN ('accepted', 'closed')
	);
$$;
GRANT EXECUTE ON FUNCTION public.fn_is_messaging_unlocked(UUID) TO authenticated;`

const createUnlockTrigger = `
CREATE OR REPLACE FUNCTION public.fn_enforce_messaging_unlock()
RETURNS TRIGGER
LANGUAGE plpgsql
SECURITY DEFINER
SET search_path = public
AS $$
DECLARE
	linked UUID;
BEGIN
	SELECT COALESCE(bid_id, thread_id) INTO linked
	FROM public.conversations WHERE id = NEW.conversation_id;
	IF linked IS NOT NULL AND NOT public.fn_is_messaging_unlocked(linked) THEN
		RAISE EXCEPTION 'messaging is locked until the bid is accepted'
			USING ERRCODE = 'ML001';
	END IF;
	RETURN NEW;
END;
$$;
DROP TRIGGER IF EXISTS trg_messages_unlock ON public.messages;
CREATE TRIGGER trg_messages_unlock
	BEFORE INSERT ON public.messages
	FOR EACH ROW EXECUTE FUNCTION public.fn_enforce_messaging_unlock();`

const createTouchTrigger = `
CREATE OR REPLACE FUNCTION public.fn_touch_updated_at()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
	NEW.updated_at = clock_timestamp();
	RETURN NEW;
END;
$$;
DROP TRIGGER IF EXISTS trg_messages_touch ON public.messages;
CREATE TRIGGER trg_messages_touch
	BEFORE UPDATE ON public.messages
	FOR EACH ROW EXECUTE FUNCTION public.fn_touch_updated_at();
DROP TRIGGER IF EXISTS trg_conversations_touch ON public.conversations;
CREATE TRIGGER trg_conversations_touch
	BEFORE UPDATE ON public.conversations
	FOR EACH ROW EXECUTE FUNCTION public.fn_touch_updated_at();
DROP TRIGGER IF EXISTS trg_bids_touch ON public.bids;
CREATE TRIGGER trg_bids_touch
	BEFORE UPDATE ON public.bids
	FOR EACH ROW EXECUTE FUNCTION public.fn_touch_updated_at();`

const enableRowLevelSecurity = `
ALTER TABLE public.bids ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.conversations ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.messages ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.notifications ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.device_tokens ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.profiles ENABLE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS bids_party_select ON public.bids;
CREATE POLICY bids_party_select ON public.bids
	FOR SELECT USING (auth.uid() = bidder_id OR auth.uid() = seller_id);

DROP POLICY IF EXISTS conversations_participant_select ON public.conversations;
CREATE POLICY conversations_participant_select ON public.conversations
	FOR SELECT USING (auth.uid() = ANY (participant_ids));
DROP POLICY IF EXISTS conversations_participant_insert ON public.conversations;
CREATE POLICY conversations_participant_insert ON public.conversations
	FOR INSERT WITH CHECK (
		auth.uid() = ANY (participant_ids) AND bid_id IS NULL AND thread_id IS NULL);
DROP POLICY IF EXISTS conversations_participant_update ON public.conversations;
CREATE POLICY conversations_participant_update ON public.conversations
	FOR UPDATE USING (auth.uid() = ANY (participant_ids))
	WITH CHECK (auth.uid() = ANY (participant_ids));

DROP POLICY IF EXISTS messages_participant_select ON public.messages;
CREATE POLICY messages_participant_select ON public.messages
	FOR SELECT USING (EXISTS (
		SELECT 1 FROM public.conversations c
		WHERE c.id = conversation_id AND auth.uid() = ANY (c.participant_ids)));
DROP POLICY IF EXISTS messages_sender_insert ON public.messages;
CREATE POLICY messages_sender_insert ON public.messages
	FOR INSERT WITH CHECK (sender_id = auth.uid() AND EXISTS (
		SELECT 1 FROM public.conversations c
		WHERE c.id = conversation_id AND auth.uid() = ANY (c.participant_ids)));
DROP POLICY IF EXISTS messages_participant_update ON public.messages;
CREATE POLICY messages_participant_update ON public.messages
	FOR UPDATE USING (EXISTS (
		SELECT 1 FROM public.conversations c
		WHERE c.id = conversation_id AND auth.uid() = ANY (c.participant_ids)));

DROP POLICY IF EXISTS notifications_owner ON public.notifications;
CREATE POLICY notifications_owner ON public.notifications
	FOR ALL USING (user_id = auth.uid());
DROP POLICY IF EXISTS device_tokens_owner ON public.device_tokens;
CREATE POLICY device_tokens_owner ON public.device_tokens
	FOR ALL USING (user_id = auth.uid());
DROP POLICY IF EXISTS profiles_read ON public.profiles;
CREATE POLICY profiles_read ON public.profiles
	FOR SELECT USING (auth.role() = 'authenticated');`

// Clients write only the columns the gateway writes on their behalf. Bid
// status and conversation links are changed by the service role alone.
const restrictClientWrites = `
REVOKE INSERT, UPDATE, DELETE ON public.bids FROM anon, authenticated;

REVOKE INSERT, UPDATE, DELETE ON public.conversations FROM anon, authenticated;
GRANT INSERT (participant_ids) ON public.conversations TO authenticated;
GRANT UPDATE (last_message, last_message_at, updated_at) ON public.conversations TO authenticated;

REVOKE INSERT, UPDATE, DELETE ON public.messages FROM anon, authenticated;
GRANT INSERT (conversation_id, sender_id, content, message_type, metadata) ON public.messages TO authenticated;
GRANT UPDATE (read_at) ON public.messages TO authenticated;`

const createImmutableColumnsTrigger = `
CREATE OR REPLACE FUNCTION public.fn_guard_immutable_columns()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
	IF COALESCE(auth.role(), '') NOT IN ('authenticated', 'anon') THEN
		RETURN NEW;
	END IF;
	IF TG_TABLE_NAME = 'conversations' AND (
		NEW.participant_ids IS DISTINCT FROM OLD.participant_ids OR
		NEW.bid_id IS DISTINCT FROM OLD.bid_id OR
		NEW.thread_id IS DISTINCT FROM OLD.thread_id) THEN
		RAISE EXCEPTION 'conversation participants and links cannot be changed'
			USING ERRCODE = '42501';
	END IF;
	IF TG_TABLE_NAME = 'messages' AND (
		NEW.conversation_id IS DISTINCT FROM OLD.conversation_id OR
		NEW.sender_id IS DISTINCT FROM OLD.sender_id OR
		NEW.content IS DISTINCT FROM OLD.content OR
		NEW.message_type IS DISTINCT FROM OLD.message_type OR
		NEW.metadata IS DISTINCT FROM OLD.metadata OR
		NEW.created_at IS DISTINCT FROM OLD.created_at) THEN
		RAISE EXCEPTION 'only read_at can change on a sent message'
			USING ERRCODE = '42501';
	END IF;
	RETURN NEW;
END;
$$;
DROP TRIGGER IF EXISTS trg_conversations_immutable ON public.conversations;
CREATE TRIGGER trg_conversations_immutable
	BEFORE UPDATE ON public.conversations
	FOR EACH ROW EXECUTE FUNCTION public.fn_guard_immutable_columns();
DROP TRIGGER IF EXISTS trg_messages_immutable ON public.messages;
CREATE TRIGGER trg_messages_immutable
	BEFORE UPDATE ON public.messages
	FOR EACH ROW EXECUTE FUNCTION public.fn_guard_immutable_columns();`

const addRealtimePublication = `
DO $$
DECLARE
	t TEXT;
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = 'supabase_realtime') THEN
		RETURN;
	END IF;
	FOREACH t IN ARRAY ARRAY['messages', 'conversations', 'bids', 'notifications'] LOOP
		IF NOT EXISTS (
			SELECT 1 FROM pg_publication_tables
			WHERE pubname = 'supabase_realtime' AND schemaname = 'public' AND tablename = t
		) THEN
			EXECUTE format('ALTER PUBLICATION supabase_realtime ADD TABLE public.%I', t);
		END IF;
	END LOOP;
END;
$$;`
