package daos

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	entities "chatcore/db/entities"
	"chatcore/logging"
	"chatcore/store"
)

const (
	minReconnectDelay = 250 * time.Millisecond
	maxReconnectDelay = 10 * time.Second
)

// ChangeFeed turns NOTIFY payloads from the row triggers into changes. One
// listening connection is shared by every subscriber and kept open while at
// least one subscriber exists.
type ChangeFeed struct {
	dbPool  *pgxpool.Pool
	channel string
	log     zerolog.Logger

	mu        sync.Mutex
	subs      map[uint64]*feedSubscriber
	nextId    uint64
	connected bool
	cancel    context.CancelFunc
}

type feedSubscriber struct {
	table    entities.Table
	onChange func(entities.Change)
	onReady  func()
}

type notification struct {
	Table entities.Table    `json:"table"`
	Op    entities.ChangeOp `json:"op"`
	Row   json.RawMessage   `json:"row"`
}

func NewChangeFeed(dbPool *pgxpool.Pool, channel string) *ChangeFeed {
	return &ChangeFeed{
		dbPool:  dbPool,
		channel: channel,
		log:     logging.Component("feed"),
		subs:    make(map[uint64]*feedSubscriber),
	}
}

func (e *ChangeFeed) SubscribeChanges(ctx context.Context, table entities.Table, onChange func(entities.Change), onReady func()) (store.Subscription, error) {
	e.mu.Lock()
	e.nextId++
	id := e.nextId
	e.subs[id] = &feedSubscriber{table: table, onChange: onChange, onReady: onReady}
	if e.cancel == nil {
		listenCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		go e.run(listenCtx)
	} else if e.connected && onReady != nil {
		go onReady()
	}
	e.mu.Unlock()

	var once sync.Once
	sub := store.SubscriptionFunc(func() error {
		once.Do(func() { e.remove(id) })
		return nil
	})
	context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

func (e *ChangeFeed) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
	if len(e.subs) == 0 && e.cancel != nil {
		e.cancel()
		e.cancel = nil
		e.connected = false
	}
}

func (e *ChangeFeed) run(ctx context.Context) {
	e.log.Info().Str("channel", e.channel).Msg("change feed started")
	delay := minReconnectDelay
	for {
		connectedAt := time.Now()
		err := e.listen(ctx)
		e.setConnected(false)
		if ctx.Err() != nil {
			e.log.Info().Str("channel", e.channel).Msg("change feed stopped")
			return
		}
		if time.Since(connectedAt) > maxReconnectDelay {
			delay = minReconnectDelay
		}
		e.log.Warn().Err(err).Dur("retry_in", delay).Msg("change feed disconnected")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (e *ChangeFeed) listen(ctx context.Context) error {
	conn, err := e.dbPool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{e.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", e.channel, err)
	}
	e.setConnected(true)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		e.dispatch(n.Payload)
	}
}

func (e *ChangeFeed) setConnected(connected bool) {
	e.mu.Lock()
	e.connected = connected
	ready := make([]func(), 0, len(e.subs))
	if connected {
		for _, sub := range e.subs {
			if sub.onReady != nil {
				ready = append(ready, sub.onReady)
			}
		}
	}
	e.mu.Unlock()

	for _, onReady := range ready {
		go onReady()
	}
}

func (e *ChangeFeed) dispatch(payload string) {
	change, err := decodeChange([]byte(payload))
	if err != nil {
		e.log.Warn().Err(err).Msg("ignoring malformed notification")
		return
	}
	e.mu.Lock()
	targets := make([]func(entities.Change), 0, len(e.subs))
	for _, sub := range e.subs {
		if sub.table == change.Table {
			targets = append(targets, sub.onChange)
		}
	}
	e.mu.Unlock()

	for _, onChange := range targets {
		onChange(change)
	}
}

// decodeChange parses a trigger payload. The row is absent when it did not
// fit into a notification.
func decodeChange(payload []byte) (entities.Change, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return entities.Change{}, err
	}
	change := entities.Change{Table: n.Table, Op: n.Op}
	if len(n.Row) == 0 || string(n.Row) == "null" {
		return change, nil
	}
	switch n.Table {
	case entities.TABLE_MESSAGES:
		var msg entities.Message
		if err := json.Unmarshal(n.Row, &msg); err != nil {
			return entities.Change{}, fmt.Errorf("decode message row: %w", err)
		}
		change.Message = &msg
	case entities.TABLE_PRESENCE:
		var record entities.PresenceRecord
		if err := json.Unmarshal(n.Row, &record); err != nil {
			return entities.Change{}, fmt.Errorf("decode presence row: %w", err)
		}
		change.Presence = &record
	default:
		return entities.Change{}, fmt.Errorf("unknown table %q", n.Table)
	}
	return change, nil
}
