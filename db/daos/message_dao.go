package daos

import (
	"context"
	"fmt"
	"time"

	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	entities "chatcore/db/entities"
	"chatcore/roomkey"
	utils "chatcore/utils"
)

type MessageDao struct {
	dbPool *pgxpool.Pool
}

func NewMessageDao(dbPool *pgxpool.Pool) *MessageDao {
	return &MessageDao{
		dbPool: dbPool,
	}
}

// InsertMessage stores msg. A row with the same id already present counts
// as success.
func (e *MessageDao) InsertMessage(ctx context.Context, msg *entities.Message) error {
	messageUuid, err := utils.StringToUuid(msg.Id)
	if err != nil {
		return err
	}
	query := `INSERT INTO chat_message (id, room, sender, body, sent_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING`
	_, err = e.dbPool.Exec(ctx, query, messageUuid, string(msg.Room), msg.Sender, msg.Body, msg.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessagesSince returns rows created at or after since, oldest first.
func (e *MessageDao) MessagesSince(ctx context.Context, room roomkey.Key, since time.Time, limit int) ([]*entities.Message, error) {
	query := `SELECT id, room, sender, body, sent_at, created_at
	FROM chat_message
	WHERE room = $1
	AND created_at >= $2
	ORDER BY created_at
	LIMIT $3`
	rows, err := e.dbPool.Query(ctx, query, string(room), since, limit)
	if err != nil {
		return nil, fmt.Errorf("poll messages: %w", err)
	}
	defer rows.Close()

	result := make([]*entities.Message, 0)
	for rows.Next() {
		var messageUuid pgxuuid.UUID
		var messageRoom string
		var sender string
		var body string
		var sentAt time.Time
		var createdAt time.Time
		err = rows.Scan(&messageUuid, &messageRoom, &sender, &body, &sentAt, &createdAt)
		if err != nil {
			return nil, err
		}
		messageUuidStr, err := utils.UuidToString(messageUuid)
		if err != nil {
			return nil, err
		}
		result = append(result, &entities.Message{
			Id:        *messageUuidStr,
			Room:      roomkey.Key(messageRoom),
			Sender:    sender,
			Body:      body,
			SentAt:    sentAt,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
