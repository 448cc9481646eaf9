package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"chatcore/db/entities"
	"chatcore/roomkey"
)

var ErrUnavailable = errors.New("store unavailable")

// Memory is an in-process Backend with switchable faults. It stands in for
// the durable store and relay in tests and in single-process demos.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	messages  []*entities.Message
	ids       map[string]struct{}
	presence  map[string]*entities.PresenceRecord
	feedSubs  map[uint64]*memoryFeedSub
	bcastSubs map[uint64]*memoryBroadcastSub
	nextSub   uint64

	broadcastDown atomic.Bool
	feedDown      atomic.Bool
	storeDown     atomic.Bool
	queryDelay    atomic.Int64
	upsertDelay   atomic.Int64
}

type memoryFeedSub struct {
	table    entities.Table
	onChange func(entities.Change)
}

type memoryBroadcastSub struct {
	channel   string
	event     string
	onPayload func([]byte)
}

func NewMemory() *Memory {
	return &Memory{
		now:       time.Now,
		ids:       make(map[string]struct{}),
		presence:  make(map[string]*entities.PresenceRecord),
		feedSubs:  make(map[uint64]*memoryFeedSub),
		bcastSubs: make(map[uint64]*memoryBroadcastSub),
	}
}

// Backend exposes every collaborator backed by this memory store.
func (e *Memory) Backend() Backend {
	return Backend{Messages: e, Presence: e, Feed: e, Broadcast: e}
}

// SetClock replaces the server clock used for CreatedAt and staleness sweeps.
func (e *Memory) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetBroadcastDown drops every publish and withholds subscription readiness.
func (e *Memory) SetBroadcastDown(down bool) { e.broadcastDown.Store(down) }

// SetFeedDown stops change notifications and withholds feed readiness.
func (e *Memory) SetFeedDown(down bool) { e.feedDown.Store(down) }

// SetStoreDown fails every durable read and write.
func (e *Memory) SetStoreDown(down bool) { e.storeDown.Store(down) }

// SetQueryDelay delays MessagesSince, to hold a poll in flight.
func (e *Memory) SetQueryDelay(d time.Duration) { e.queryDelay.Store(int64(d)) }

// SetUpsertDelay delays UpsertPresence, to hold a registration in flight.
func (e *Memory) SetUpsertDelay(d time.Duration) { e.upsertDelay.Store(int64(d)) }

func delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Memory) InsertMessage(ctx context.Context, msg *entities.Message) error {
	if e.storeDown.Load() {
		return ErrUnavailable
	}
	e.mu.Lock()
	if _, ok := e.ids[msg.Id]; ok {
		e.mu.Unlock()
		return nil
	}
	row := *msg
	row.CreatedAt = e.now()
	e.ids[row.Id] = struct{}{}
	e.messages = append(e.messages, &row)
	e.mu.Unlock()

	e.notify(entities.Change{Table: entities.TABLE_MESSAGES, Op: entities.CHANGE_OP_INSERT, Message: &row})
	return nil
}

func (e *Memory) MessagesSince(ctx context.Context, room roomkey.Key, since time.Time, limit int) ([]*entities.Message, error) {
	if err := delay(ctx, time.Duration(e.queryDelay.Load())); err != nil {
		return nil, err
	}
	if e.storeDown.Load() {
		return nil, ErrUnavailable
	}
	e.mu.Lock()
	rows := lo.Filter(e.messages, func(item *entities.Message, _ int) bool {
		return item.Room == room && !item.CreatedAt.Before(since)
	})
	e.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return lo.Map(rows, func(item *entities.Message, _ int) *entities.Message {
		row := *item
		return &row
	}), nil
}

// MessageCount returns the number of durable rows, for tests.
func (e *Memory) MessageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

func (e *Memory) UpsertPresence(ctx context.Context, record *entities.PresenceRecord) error {
	if err := delay(ctx, time.Duration(e.upsertDelay.Load())); err != nil {
		return err
	}
	if e.storeDown.Load() {
		return ErrUnavailable
	}
	e.mu.Lock()
	row := *record
	op := entities.CHANGE_OP_INSERT
	if _, ok := e.presence[row.UserId]; ok {
		op = entities.CHANGE_OP_UPDATE
	}
	e.presence[row.UserId] = &row
	e.mu.Unlock()

	e.notifyPresence(op, &row)
	return nil
}

func (e *Memory) UpdatePresence(ctx context.Context, userId string, patch entities.PresencePatch) error {
	if e.storeDown.Load() {
		return ErrUnavailable
	}
	e.mu.Lock()
	record, ok := e.presence[userId]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	patch.Apply(record, e.now())
	row := *record
	e.mu.Unlock()

	e.notifyPresence(entities.CHANGE_OP_UPDATE, &row)
	return nil
}

func (e *Memory) DeletePresence(ctx context.Context, userId string) error {
	if e.storeDown.Load() {
		return ErrUnavailable
	}
	e.mu.Lock()
	record, ok := e.presence[userId]
	delete(e.presence, userId)
	e.mu.Unlock()

	if ok {
		e.notifyPresence(entities.CHANGE_OP_DELETE, record)
	}
	return nil
}

func (e *Memory) DeleteStalePresence(ctx context.Context, before time.Time) (int64, error) {
	if e.storeDown.Load() {
		return 0, ErrUnavailable
	}
	e.mu.Lock()
	removed := make([]*entities.PresenceRecord, 0)
	for userId, record := range e.presence {
		if record.LastActivityAt.Before(before) {
			removed = append(removed, record)
			delete(e.presence, userId)
		}
	}
	e.mu.Unlock()

	for _, record := range removed {
		e.notifyPresence(entities.CHANGE_OP_DELETE, record)
	}
	return int64(len(removed)), nil
}

func (e *Memory) ListPresence(ctx context.Context) ([]*entities.PresenceRecord, error) {
	if e.storeDown.Load() {
		return nil, ErrUnavailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]*entities.PresenceRecord, 0, len(e.presence))
	for _, record := range e.presence {
		row := *record
		result = append(result, &row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JoinedAt.Before(result[j].JoinedAt) })
	return result, nil
}

func (e *Memory) SubscribeChanges(ctx context.Context, table entities.Table, onChange func(entities.Change), onReady func()) (Subscription, error) {
	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.feedSubs[id] = &memoryFeedSub{table: table, onChange: onChange}
	e.mu.Unlock()

	if onReady != nil && !e.feedDown.Load() {
		go onReady()
	}
	return e.unsubscriber(func() { delete(e.feedSubs, id) }), nil
}

func (e *Memory) PublishBroadcast(ctx context.Context, channel string, event string, payload []byte) error {
	if e.broadcastDown.Load() {
		return ErrUnavailable
	}
	e.mu.Lock()
	targets := make([]*memoryBroadcastSub, 0)
	for _, sub := range e.bcastSubs {
		if sub.channel == channel && sub.event == event {
			targets = append(targets, sub)
		}
	}
	e.mu.Unlock()

	for _, sub := range targets {
		data := make([]byte, len(payload))
		copy(data, payload)
		sub.onPayload(data)
	}
	return nil
}

func (e *Memory) SubscribeBroadcast(ctx context.Context, channel string, event string, onPayload func([]byte), onReady func()) (Subscription, error) {
	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.bcastSubs[id] = &memoryBroadcastSub{channel: channel, event: event, onPayload: onPayload}
	e.mu.Unlock()

	if onReady != nil && !e.broadcastDown.Load() {
		go onReady()
	}
	return e.unsubscriber(func() { delete(e.bcastSubs, id) }), nil
}

func (e *Memory) unsubscriber(remove func()) Subscription {
	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			e.mu.Lock()
			remove()
			e.mu.Unlock()
		})
		return nil
	})
}

func (e *Memory) notifyPresence(op entities.ChangeOp, record *entities.PresenceRecord) {
	row := *record
	e.notify(entities.Change{Table: entities.TABLE_PRESENCE, Op: op, Presence: &row})
}

func (e *Memory) notify(change entities.Change) {
	if e.feedDown.Load() {
		return
	}
	e.mu.Lock()
	targets := make([]*memoryFeedSub, 0)
	for _, sub := range e.feedSubs {
		if sub.table == change.Table {
			targets = append(targets, sub)
		}
	}
	e.mu.Unlock()

	for _, sub := range targets {
		sub.onChange(change)
	}
}
