package presence

import (
	"context"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/config"
	"chatcore/db/entities"
	"chatcore/roomkey"
	"chatcore/store"
)

func testTiming() config.TimingConfig {
	timing := config.DefaultTiming()
	timing.TypingQuiet = 50 * time.Millisecond
	timing.DeregisterTimeout = time.Second
	return timing
}

func findRecord(t *testing.T, m *store.Memory, user string) *entities.PresenceRecord {
	t.Helper()
	rows, err := m.ListPresence(context.Background())
	require.NoError(t, err)
	for _, row := range rows {
		if row.UserId == user {
			return row
		}
	}
	return nil
}

func TestRegisterLifecycle(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	reg := NewRegister(m, "alice", testTiming(), nil)

	require.NoError(t, reg.RegisterOnline(ctx, roomkey.Default))
	require.NoError(t, reg.RegisterOnline(ctx, roomkey.Default))
	rows, err := reg.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, reg.ChangeRoom(ctx, "Gaming"))
	assert.Equal(t, roomkey.Key("Gaming"), findRecord(t, m, "alice").Room)

	require.NoError(t, reg.SetAway(ctx, mo.Some("lunch")))
	assert.Equal(t, "lunch", *findRecord(t, m, "alice").AwayText)
	require.NoError(t, reg.SetAway(ctx, mo.None[string]()))
	assert.Nil(t, findRecord(t, m, "alice").AwayText)

	require.NoError(t, reg.Deregister(ctx))
	assert.Nil(t, findRecord(t, m, "alice"))
}

func TestRegisterTypingDebounce(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	reg := NewRegister(m, "alice", testTiming(), nil)
	require.NoError(t, reg.RegisterOnline(ctx, roomkey.Default))

	require.NoError(t, reg.SetTyping(ctx))
	assert.True(t, findRecord(t, m, "alice").IsTyping)
	assert.True(t, reg.IsTyping())

	require.Eventually(t, func() bool {
		return !findRecord(t, m, "alice").IsTyping
	}, time.Second, 10*time.Millisecond)
	assert.False(t, reg.IsTyping())
}

func TestRegisterStopTyping(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	reg := NewRegister(m, "alice", testTiming(), nil)
	require.NoError(t, reg.RegisterOnline(ctx, roomkey.Default))

	require.NoError(t, reg.SetTyping(ctx))
	require.NoError(t, reg.StopTyping(ctx))
	assert.False(t, findRecord(t, m, "alice").IsTyping)
}

func TestRegisterDeregisterAsync(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	reg := NewRegister(m, "alice", testTiming(), nil)
	require.NoError(t, reg.RegisterOnline(ctx, roomkey.Default))

	reg.DeregisterAsync()
	require.Eventually(t, func() bool {
		return findRecord(t, m, "alice") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestRegisterSweepStale(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now()
	require.NoError(t, m.UpsertPresence(ctx, &entities.PresenceRecord{UserId: "ghost", LastActivityAt: now.Add(-time.Hour)}))
	require.NoError(t, m.UpsertPresence(ctx, &entities.PresenceRecord{UserId: "bob", LastActivityAt: now}))

	reg := NewRegister(m, "alice", testTiming(), func() time.Time { return now })
	removed, err := reg.SweepStale(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.Nil(t, findRecord(t, m, "ghost"))
	assert.NotNil(t, findRecord(t, m, "bob"))
}

func TestRegisterWithoutStore(t *testing.T) {
	ctx := context.Background()
	reg := NewRegister(nil, "alice", testTiming(), nil)

	assert.NoError(t, reg.RegisterOnline(ctx, roomkey.Default))
	assert.NoError(t, reg.SetTyping(ctx))
	assert.NoError(t, reg.Heartbeat(ctx))
	assert.NoError(t, reg.Deregister(ctx))
	rows, err := reg.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRegisterRoomWritesKeepLatestRoom(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetUpsertDelay(100 * time.Millisecond)
	reg := NewRegister(m, "alice", testTiming(), nil)

	done := make(chan error, 2)
	reg.WantRoom(roomkey.Default)
	go func() { done <- reg.SyncRoom(ctx) }()
	reg.WantRoom("Gaming")
	go func() { done <- reg.SyncRoom(ctx) }()

	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, roomkey.Key("Gaming"), findRecord(t, m, "alice").Room)
}

func TestRegisterNoWriteAfterDeregister(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetUpsertDelay(50 * time.Millisecond)
	reg := NewRegister(m, "alice", testTiming(), nil)

	reg.WantRoom(roomkey.Default)
	written := make(chan error, 1)
	go func() { written <- reg.SyncRoom(ctx) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, reg.Deregister(ctx))
	require.NoError(t, <-written)

	require.NoError(t, reg.SyncRoom(ctx))
	assert.Nil(t, findRecord(t, m, "alice"))
}
