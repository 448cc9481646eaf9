package db

import (
	"context"
	"fmt"

	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatcore/db/daos"
	"chatcore/logging"
	"chatcore/store"
)

// ChatDB is the Postgres implementation of the durable store and its
// change feed.
type ChatDB struct {
	dbPool      *pgxpool.Pool
	MessageDao  *daos.MessageDao
	PresenceDao *daos.PresenceDao
	RoomDao     *daos.RoomDao
	Feed        *daos.ChangeFeed
}

func SetupDatabase(ctx context.Context, dbUrl string) (*ChatDB, error) {
	dbconfig, err := pgxpool.ParseConfig(dbUrl)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pool config: %w", err)
	}
	dbconfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxuuid.Register(conn.TypeMap())
		return nil
	}
	dbPool, err := pgxpool.NewWithConfig(ctx, dbconfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	log := logging.Component("db")
	log.Info().Str("database", dbconfig.ConnConfig.Database).Msg("connected")
	return &ChatDB{
		dbPool:      dbPool,
		MessageDao:  daos.NewMessageDao(dbPool),
		PresenceDao: daos.NewPresenceDao(dbPool),
		RoomDao:     daos.NewRoomDao(dbPool),
		Feed:        daos.NewChangeFeed(dbPool, changeChannel),
	}, nil
}

// Backend exposes the durable side of the store. Broadcast comes from the
// relay, not from here.
func (e *ChatDB) Backend() store.Backend {
	return store.Backend{
		Messages: e.MessageDao,
		Presence: e.PresenceDao,
		Feed:     e.Feed,
	}
}

func (e *ChatDB) Close() {
	e.dbPool.Close()
}
