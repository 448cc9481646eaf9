// Package store defines the collaborator the session core consumes: a
// durable store with a change feed, and an ephemeral broadcast medium.
// None of them is assumed reliable.
package store

import (
	"context"
	"time"

	"chatcore/db/entities"
	"chatcore/roomkey"
)

type MessageStore interface {
	// InsertMessage must treat a duplicate id as success.
	InsertMessage(ctx context.Context, msg *entities.Message) error
	// MessagesSince returns rows of room with CreatedAt >= since, ascending,
	// at most limit rows.
	MessagesSince(ctx context.Context, room roomkey.Key, since time.Time, limit int) ([]*entities.Message, error)
}

type PresenceStore interface {
	UpsertPresence(ctx context.Context, record *entities.PresenceRecord) error
	UpdatePresence(ctx context.Context, userId string, patch entities.PresencePatch) error
	DeletePresence(ctx context.Context, userId string) error
	DeleteStalePresence(ctx context.Context, before time.Time) (int64, error)
	ListPresence(ctx context.Context) ([]*entities.PresenceRecord, error)
}

// Subscription is released with Close. Closing twice is harmless.
type Subscription interface {
	Close() error
}

// ChangeFeed pushes durable row changes. onReady runs every time the feed
// (re)connects; changes may be delayed or missed entirely.
type ChangeFeed interface {
	SubscribeChanges(ctx context.Context, table entities.Table, onChange func(entities.Change), onReady func()) (Subscription, error)
}

// Broadcaster is a best-effort fan-out with no persistence and no ordering.
// onReady runs every time the subscription (re)connects.
type Broadcaster interface {
	PublishBroadcast(ctx context.Context, channel string, event string, payload []byte) error
	SubscribeBroadcast(ctx context.Context, channel string, event string, onPayload func([]byte), onReady func()) (Subscription, error)
}

// Backend bundles the collaborators. Any field may be nil; a backend with
// neither Messages nor Presence puts sessions in local-only mode.
type Backend struct {
	Messages  MessageStore
	Presence  PresenceStore
	Feed      ChangeFeed
	Broadcast Broadcaster
}

func (e Backend) LocalOnly() bool {
	return e.Messages == nil && e.Presence == nil && e.Broadcast == nil
}

// MessageEvent is the broadcast event name carrying a full message.
const MessageEvent = "new-message"

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error {
	return f()
}
