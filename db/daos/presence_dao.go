package daos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	entities "chatcore/db/entities"
	"chatcore/roomkey"
)

type PresenceDao struct {
	dbPool *pgxpool.Pool
}

func NewPresenceDao(dbPool *pgxpool.Pool) *PresenceDao {
	return &PresenceDao{
		dbPool: dbPool,
	}
}

func (e *PresenceDao) UpsertPresence(ctx context.Context, record *entities.PresenceRecord) error {
	query := `INSERT INTO online_user (user_id, current_room, is_typing, typing_at, away_message, last_activity, joined_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE
	SET current_room = EXCLUDED.current_room,
		is_typing = EXCLUDED.is_typing,
		typing_at = EXCLUDED.typing_at,
		away_message = EXCLUDED.away_message,
		last_activity = EXCLUDED.last_activity`
	_, err := e.dbPool.Exec(ctx, query,
		record.UserId, string(record.Room), record.IsTyping, record.TypingAt,
		record.AwayText, record.LastActivityAt, record.JoinedAt)
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// UpdatePresence writes only the fields present in patch. A missing row is
// not an error.
func (e *PresenceDao) UpdatePresence(ctx context.Context, userId string, patch entities.PresencePatch) error {
	sets, args := presenceAssignments(patch)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, userId)
	query := fmt.Sprintf(`UPDATE online_user SET %s WHERE user_id = $%d`, strings.Join(sets, ", "), len(args))
	if _, err := e.dbPool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

func presenceAssignments(patch entities.PresencePatch) ([]string, []any) {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if room, ok := patch.Room.Get(); ok {
		add("current_room", string(room))
	}
	if typing, ok := patch.IsTyping.Get(); ok {
		add("is_typing", typing)
		if typing {
			sets = append(sets, "typing_at = now()")
		}
	}
	if away, ok := patch.Away.Get(); ok {
		var text *string
		if value, ok := away.Get(); ok {
			text = &value
		}
		add("away_message", text)
	}
	if at, ok := patch.LastActivityAt.Get(); ok {
		add("last_activity", at)
	}
	return sets, args
}

func (e *PresenceDao) DeletePresence(ctx context.Context, userId string) error {
	if _, err := e.dbPool.Exec(ctx, `DELETE FROM online_user WHERE user_id = $1`, userId); err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

func (e *PresenceDao) DeleteStalePresence(ctx context.Context, before time.Time) (int64, error) {
	tag, err := e.dbPool.Exec(ctx, `DELETE FROM online_user WHERE last_activity < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale presence: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (e *PresenceDao) ListPresence(ctx context.Context) ([]*entities.PresenceRecord, error) {
	rows, err := e.dbPool.Query(ctx,
		`SELECT user_id, current_room, is_typing, typing_at, away_message, last_activity, joined_at
		FROM online_user
		ORDER BY joined_at`)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	defer rows.Close()

	result := make([]*entities.PresenceRecord, 0)
	for rows.Next() {
		var userId string
		var room string
		var isTyping bool
		var typingAt *time.Time
		var awayText *string
		var lastActivity time.Time
		var joinedAt time.Time
		err := rows.Scan(&userId, &room, &isTyping, &typingAt, &awayText, &lastActivity, &joinedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, &entities.PresenceRecord{
			UserId:         userId,
			Room:           roomkey.Key(room),
			IsTyping:       isTyping,
			TypingAt:       typingAt,
			AwayText:       awayText,
			LastActivityAt: lastActivity,
			JoinedAt:       joinedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
