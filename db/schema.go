package db

import (
	"context"
	"fmt"
)

const changeChannel = "chat_changes"

// Rows larger than a NOTIFY payload are announced without the row; readers
// pick them up on the next poll.
const schema = `
CREATE TABLE IF NOT EXISTS chat_room (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	title      text NOT NULL UNIQUE,
	is_private boolean NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS chat_message (
	id         uuid PRIMARY KEY,
	room       text NOT NULL,
	sender     text NOT NULL,
	body       text NOT NULL,
	sent_at    timestamptz NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chat_message_room_created_idx ON chat_message (room, created_at);

CREATE TABLE IF NOT EXISTS online_user (
	user_id       text PRIMARY KEY,
	current_room  text NOT NULL,
	is_typing     boolean NOT NULL DEFAULT false,
	typing_at     timestamptz,
	away_message  text,
	last_activity timestamptz NOT NULL DEFAULT now(),
	joined_at     timestamptz NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION chat_notify_change() RETURNS trigger AS $$
DECLARE
	payload text;
	changed record;
BEGIN
	IF TG_OP = 'DELETE' THEN
		changed := OLD;
	ELSE
		changed := NEW;
	END IF;
	payload := json_build_object('table', TG_TABLE_NAME, 'op', TG_OP, 'row', row_to_json(changed))::text;
	IF octet_length(payload) > 7900 THEN
		payload := json_build_object('table', TG_TABLE_NAME, 'op', TG_OP)::text;
	END IF;
	PERFORM pg_notify('chat_changes', payload);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS chat_message_notify ON chat_message;
CREATE TRIGGER chat_message_notify AFTER INSERT ON chat_message
	FOR EACH ROW EXECUTE FUNCTION chat_notify_change();

DROP TRIGGER IF EXISTS online_user_notify ON online_user;
CREATE TRIGGER online_user_notify AFTER INSERT OR UPDATE OR DELETE ON online_user
	FOR EACH ROW EXECUTE FUNCTION chat_notify_change();
`

// Migrate creates the tables and notify triggers. It is safe to run twice.
func (e *ChatDB) Migrate(ctx context.Context) error {
	if _, err := e.dbPool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
