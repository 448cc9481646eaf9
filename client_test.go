package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/db/entities"
	"chatcore/prefs"
	"chatcore/roomkey"
	"chatcore/session"
	"chatcore/store"
)

func localClient(t *testing.T) (*client, *bytes.Buffer) {
	t.Helper()
	preferences, err := prefs.Open("", "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = preferences.Close() })

	s, err := session.New(session.Options{Self: "alice", Prefs: preferences})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	require.Eventually(t, func() bool {
		state, err := s.State(context.Background())
		return err == nil && state == session.STATE_ACTIVE
	}, 3*time.Second, 5*time.Millisecond)

	out := &bytes.Buffer{}
	return &client{session: s, prefs: preferences, out: out, printed: make(map[string]bool)}, out
}

func TestSplitCommand(t *testing.T) {
	command, arg := splitCommand("  /JOIN   room:42 ")
	assert.Equal(t, "/join", command)
	assert.Equal(t, "room:42", arg)

	command, arg = splitCommand("/quit")
	assert.Equal(t, "/quit", command)
	assert.Empty(t, arg)
}

func TestClientSendsAndRenders(t *testing.T) {
	c, out := localClient(t)
	ctx := context.Background()

	quit, err := c.handle(ctx, "hello there")
	require.NoError(t, err)
	assert.False(t, quit)

	c.render(ctx)
	assert.Contains(t, out.String(), "alice: hello there")

	// Rendering again prints nothing new.
	before := out.Len()
	c.render(ctx)
	assert.Equal(t, before, out.Len())
}

func TestClientCommands(t *testing.T) {
	c, out := localClient(t)
	ctx := context.Background()

	_, err := c.handle(ctx, "/join room:42")
	require.NoError(t, err)
	view, err := c.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, roomkey.Private("42"), view.Room)

	_, err = c.handle(ctx, "/block bob")
	require.NoError(t, err)
	assert.True(t, c.prefs.IsBlocked("bob"))

	_, err = c.handle(ctx, "/warn bob")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "bob is now at warning level 20%")

	_, err = c.handle(ctx, "/create lounge")
	assert.Error(t, err)

	_, err = c.handle(ctx, "/dance")
	assert.Error(t, err)

	quit, err := c.handle(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestRoomsListedInOrderWithoutStore(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now()
	for user, room := range map[string]roomkey.Key{"bob": "Lobby", "carol": "Attic", "dave": "Lobby"} {
		require.NoError(t, m.UpsertPresence(ctx, &entities.PresenceRecord{UserId: user, Room: room, LastActivityAt: now, JoinedAt: now}))
	}

	s, err := session.New(session.Options{Self: "alice", Backend: store.Backend{Presence: m}})
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	go s.Run(runCtx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	require.Eventually(t, func() bool {
		view, err := s.Snapshot(ctx)
		return err == nil && view.State == session.STATE_ACTIVE && len(view.Occupancy) == 3
	}, 3*time.Second, 5*time.Millisecond)

	out := &bytes.Buffer{}
	c := &client{session: s, out: out, printed: make(map[string]bool)}
	require.NoError(t, c.rooms(ctx))
	assert.Equal(t, "  Attic (1)\n  Lobby (2)\n  Town Square (1)\n", out.String())
}
