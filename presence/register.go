// Package presence keeps the online-user register of one session and derives
// room membership, typing users and synthetic join/leave transitions from it.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"chatcore/config"
	"chatcore/db/entities"
	"chatcore/logging"
	"chatcore/roomkey"
	"chatcore/store"
)

// Register writes the presence row of one user. A nil store makes every call
// a no-op, which is how local-only sessions run.
type Register struct {
	store   store.PresenceStore
	userId  string
	quiet   time.Duration
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu          sync.Mutex
	typing      bool
	typingSetAt time.Time
	typingTimer *time.Timer
	closed      bool
	room        roomkey.Key
	registered  bool

	// roomWrites orders row creation, room moves and deletion.
	roomWrites sync.Mutex
}

func NewRegister(presenceStore store.PresenceStore, userId string, timing config.TimingConfig, now func() time.Time) *Register {
	if now == nil {
		now = time.Now
	}
	return &Register{
		store:   presenceStore,
		userId:  userId,
		quiet:   timing.TypingQuiet,
		timeout: timing.DeregisterTimeout,
		now:     now,
		log:     logging.Component("presence").With().Str("user", userId).Logger(),
	}
}

func (e *Register) enabled() bool {
	return e.store != nil
}

// RegisterOnline upserts the user's row. Calling it again only refreshes it.
func (e *Register) RegisterOnline(ctx context.Context, room roomkey.Key) error {
	e.mu.Lock()
	e.room = room
	e.registered = false
	e.mu.Unlock()
	return e.SyncRoom(ctx)
}

// WantRoom records where the user should be. Any SyncRoom finishing after
// this call writes room or a later one, whatever order the writes started in.
func (e *Register) WantRoom(room roomkey.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.room = room
}

// SyncRoom writes the wanted room: an upsert until the row exists, a room
// patch afterwards. Writes are serialized, and each reads the wanted room
// only once it holds the write lock.
func (e *Register) SyncRoom(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	e.roomWrites.Lock()
	defer e.roomWrites.Unlock()

	e.mu.Lock()
	room, registered, closed := e.room, e.registered, e.closed
	e.mu.Unlock()
	if closed {
		return nil
	}

	now := e.now()
	if !registered {
		err := e.store.UpsertPresence(ctx, &entities.PresenceRecord{
			UserId:         e.userId,
			Room:           room,
			LastActivityAt: now,
			JoinedAt:       now,
		})
		if err != nil {
			return fmt.Errorf("register online: %w", err)
		}
		e.mu.Lock()
		e.registered = true
		e.mu.Unlock()
		return nil
	}
	return e.update(ctx, "change room", entities.PresencePatch{
		Room:           mo.Some(room),
		LastActivityAt: mo.Some(now),
	})
}

func (e *Register) Heartbeat(ctx context.Context) error {
	return e.update(ctx, "heartbeat", entities.PresencePatch{LastActivityAt: mo.Some(e.now())})
}

// SetTyping marks the user typing now and clears the flag after the quiet
// period unless called again. Repeated calls within the quiet period do not
// write again.
func (e *Register) SetTyping(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	now := e.now()
	write := !e.typing || now.Sub(e.typingSetAt) >= e.quiet
	e.typing = true
	if write {
		e.typingSetAt = now
	}
	if e.typingTimer != nil {
		e.typingTimer.Stop()
	}
	e.typingTimer = time.AfterFunc(e.quiet, e.typingExpired)
	e.mu.Unlock()

	if !write {
		return nil
	}
	return e.update(ctx, "typing", entities.PresencePatch{
		IsTyping:       mo.Some(true),
		LastActivityAt: mo.Some(now),
	})
}

// StopTyping clears the typing flag immediately, as sending a message does.
func (e *Register) StopTyping(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	e.mu.Lock()
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	wasTyping := e.typing
	e.typing = false
	e.mu.Unlock()

	if !wasTyping {
		return nil
	}
	return e.update(ctx, "stop typing", entities.PresencePatch{IsTyping: mo.Some(false)})
}

func (e *Register) typingExpired() {
	e.mu.Lock()
	if !e.typing || e.closed {
		e.mu.Unlock()
		return
	}
	e.typing = false
	e.typingTimer = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.update(ctx, "typing expired", entities.PresencePatch{IsTyping: mo.Some(false)}); err != nil {
		e.log.Warn().Err(err).Msg("typing flag not cleared")
	}
}

// IsTyping reports the local typing flag.
func (e *Register) IsTyping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing
}

// SetAway sets the away text, or clears it with mo.None.
func (e *Register) SetAway(ctx context.Context, text mo.Option[string]) error {
	return e.update(ctx, "away", entities.PresencePatch{
		Away:           mo.Some(text),
		LastActivityAt: mo.Some(e.now()),
	})
}

func (e *Register) ChangeRoom(ctx context.Context, room roomkey.Key) error {
	e.WantRoom(room)
	return e.SyncRoom(ctx)
}

// Deregister deletes the row, bounded by the configured timeout.
func (e *Register) Deregister(ctx context.Context) error {
	e.Close()
	if !e.enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.delete(ctx); err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	return nil
}

// DeregisterAsync fires the delete without waiting. Failure is only logged.
func (e *Register) DeregisterAsync() {
	e.Close()
	if !e.enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.delete(ctx); err != nil {
			e.log.Debug().Err(err).Msg("async deregister failed")
		}
	}()
}

// delete waits for a room write in flight, so the row cannot come back
// after it is gone.
func (e *Register) delete(ctx context.Context) error {
	e.roomWrites.Lock()
	defer e.roomWrites.Unlock()
	e.mu.Lock()
	e.registered = false
	e.mu.Unlock()
	return e.store.DeletePresence(ctx, e.userId)
}

// SweepStale deletes every row whose last activity predates olderThan.
func (e *Register) SweepStale(ctx context.Context, olderThan time.Time) (int64, error) {
	if !e.enabled() {
		return 0, nil
	}
	removed, err := e.store.DeleteStalePresence(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweep stale presence: %w", err)
	}
	if removed > 0 {
		e.log.Info().Int64("removed", removed).Msg("reclaimed stale presence rows")
	}
	return removed, nil
}

// Snapshot lists every presence row.
func (e *Register) Snapshot(ctx context.Context) ([]*entities.PresenceRecord, error) {
	if !e.enabled() {
		return nil, nil
	}
	rows, err := e.store.ListPresence(ctx)
	if err != nil {
		return nil, fmt.Errorf("presence snapshot: %w", err)
	}
	return rows, nil
}

// Close stops the typing timer. Later typing calls are ignored.
func (e *Register) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
}

func (e *Register) update(ctx context.Context, what string, patch entities.PresencePatch) error {
	if !e.enabled() {
		return nil
	}
	if err := e.store.UpdatePresence(ctx, e.userId, patch); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
