package daos

import (
	"context"
	"errors"
	"fmt"

	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/mo"

	entities "chatcore/db/entities"
	utils "chatcore/utils"
)

type RoomDao struct {
	dbPool *pgxpool.Pool
}

func NewRoomDao(dbPool *pgxpool.Pool) *RoomDao {
	return &RoomDao{
		dbPool: dbPool,
	}
}

func (e *RoomDao) GetRooms(ctx context.Context) ([]*entities.RoomEntity, error) {
	query := "SELECT id, title, is_private FROM chat_room ORDER BY title"
	rows, err := e.dbPool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*entities.RoomEntity, 0)

	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *RoomDao) FindRoom(ctx context.Context, roomId string) (mo.Option[*entities.RoomEntity], error) {
	roomUuid, err := utils.StringToUuid(roomId)
	if err != nil {
		return mo.None[*entities.RoomEntity](), err
	}
	row := e.dbPool.QueryRow(ctx, "SELECT id, title, is_private FROM chat_room WHERE id = $1", roomUuid)
	room, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return mo.None[*entities.RoomEntity](), nil
	}
	if err != nil {
		return mo.None[*entities.RoomEntity](), err
	}
	return mo.Some(room), nil
}

// CreateRoom adds a room, or returns the existing one with the same title.
func (e *RoomDao) CreateRoom(ctx context.Context, title string, isPrivate bool) (*entities.RoomEntity, error) {
	query := `INSERT INTO chat_room (title, is_private)
	VALUES ($1, $2)
	ON CONFLICT (title) DO UPDATE SET title = EXCLUDED.title
	RETURNING id, title, is_private`
	room, err := scanRoom(e.dbPool.QueryRow(ctx, query, title, isPrivate))
	if err != nil {
		return nil, fmt.Errorf("create room %q: %w", title, err)
	}
	return room, nil
}

func scanRoom(row pgx.Row) (*entities.RoomEntity, error) {
	var roomUuid pgxuuid.UUID
	var roomTitle string
	var isPrivate bool
	if err := row.Scan(&roomUuid, &roomTitle, &isPrivate); err != nil {
		return nil, err
	}
	roomUuidStr, err := utils.UuidToString(roomUuid)
	if err != nil {
		return nil, err
	}
	return &entities.RoomEntity{
		RoomId:    *roomUuidStr,
		Title:     roomTitle,
		IsPrivate: isPrivate,
	}, nil
}
