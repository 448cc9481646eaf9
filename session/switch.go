package session

import (
	"context"
	"time"

	"github.com/samber/lo"

	"chatcore/db/entities"
	"chatcore/metrics"
	"chatcore/presence"
	"chatcore/roomkey"
	"chatcore/store"
	"chatcore/timeline"
	"chatcore/utils"
)

// roomView is everything scoped to the current room. Switching rooms
// replaces it as a whole.
type roomView struct {
	room       roomkey.Key
	generation uint64
	messages   *timeline.Messages
	events     []*entities.SystemEvent
	seen       map[string]struct{}
	cursor     time.Time
	pollLimit  int

	baseline     []string
	awayBaseline map[string]bool
	baselineSet  bool
	present      []string
	typing       []string
	away         []string

	pollInFlight bool
	pollPending  bool
	readyPolled  bool
	safetyTimer  *time.Timer
	broadcastSub store.Subscription
}

func newRoomView(room roomkey.Key, generation uint64, cursor time.Time, pollLimit int) *roomView {
	return &roomView{
		room:         room,
		generation:   generation,
		messages:     timeline.NewMessages(),
		events:       make([]*entities.SystemEvent, 0),
		seen:         make(map[string]struct{}),
		cursor:       cursor,
		pollLimit:    pollLimit,
		awayBaseline: make(map[string]bool),
	}
}

func (v *roomView) accept(msg *entities.Message) {
	v.seen[msg.Id] = struct{}{}
	v.messages.Insert(msg)
}

// SwitchRoom moves the session to room. The previous room's timeline,
// events and baseline are discarded; messages already in flight for it are
// rejected on arrival.
func (e *Session) SwitchRoom(ctx context.Context, room roomkey.Key) error {
	result, err := e.ask(ctx, &switchRequest{Room: room})
	if err != nil {
		return err
	}
	return result.(*switchReply).Err
}

func (e *Session) switchRoom(room roomkey.Key, first bool) (uint64, error) {
	if e.state == STATE_LEAVING {
		return 0, ErrClosed
	}
	if room == "" {
		room = roomkey.Default
	}
	e.closeView()
	e.generation++
	gen := e.generation
	e.view = newRoomView(room, gen, e.now().Add(-e.timing.LookbackBuffer), e.timing.PollBatchSize)
	e.state = STATE_JOINING
	e.refreshPending = false
	e.log.Info().Str("room", room.String()).Uint64("generation", gen).Msg("joining room")

	if e.backend.Broadcast != nil {
		sub, err := e.backend.Broadcast.SubscribeBroadcast(e.runCtx, room.Channel(), store.MessageEvent,
			e.onBroadcast,
			func() {
				e.tell(&pollTrigger{Generation: gen, Reason: reasonReady})
			})
		if err != nil {
			e.log.Warn().Err(err).Str("room", room.String()).Msg("broadcast subscription failed")
		} else {
			e.view.broadcastSub = sub
		}
	}
	if e.backend.Messages != nil {
		e.view.safetyTimer = time.AfterFunc(e.timing.PollSafetyDelay, func() {
			e.tell(&pollTrigger{Generation: gen, Reason: reasonSafety})
		})
	}

	// The wanted room is recorded here, in call order; the writes below may
	// run in any order and each carries the latest wanted room.
	e.register.WantRoom(room)
	ctx := e.runCtx
	reclaimBefore := e.now().Add(-e.timing.ReclaimWindow)
	go func() {
		if first {
			if _, err := e.register.SweepStale(ctx, reclaimBefore); err != nil {
				e.log.Warn().Err(err).Msg("stale presence sweep failed")
			}
		}
		if err := e.register.SyncRoom(ctx); err != nil {
			e.log.Warn().Err(err).Msg("presence room write failed")
		}
		rows, err := e.register.Snapshot(ctx)
		e.tell(&presenceResult{Generation: gen, Initial: true, Rows: rows, Err: err})
	}()
	return gen, nil
}

func (e *Session) closeView() {
	if e.view == nil {
		return
	}
	if e.view.safetyTimer != nil {
		e.view.safetyTimer.Stop()
		e.view.safetyTimer = nil
	}
	if e.view.broadcastSub != nil {
		go closeQuietly(e.view.broadcastSub)
		e.view.broadcastSub = nil
	}
}

func (e *Session) activate() {
	if e.state != STATE_JOINING {
		return
	}
	e.state = STATE_ACTIVE
	e.log.Info().Str("room", e.view.room.String()).Int("present", len(e.view.present)).Msg("room active")
	if e.view.pollPending {
		e.view.pollPending = false
		e.startBackgroundPoll()
	}
}

func (e *Session) refreshPresence() {
	if e.backend.Presence == nil {
		return
	}
	if e.state != STATE_ACTIVE || e.refreshInFlight {
		e.refreshPending = true
		return
	}
	e.refreshInFlight = true
	gen := e.generation
	ctx := e.runCtx
	go func() {
		rows, err := e.register.Snapshot(ctx)
		e.tell(&presenceResult{Generation: gen, Rows: rows, Err: err})
	}()
}

func (e *Session) onPresenceResult(v *presenceResult) {
	if !v.Initial {
		e.refreshInFlight = false
	}
	if v.Generation != e.generation {
		e.log.Debug().Uint64("generation", v.Generation).Msg("dropping stale presence snapshot")
	} else {
		if v.Err != nil {
			e.log.Warn().Err(v.Err).Msg("presence snapshot failed")
		} else {
			e.applyPresence(v.Rows)
		}
		if v.Initial {
			e.activate()
		}
	}
	if e.refreshPending && e.state == STATE_ACTIVE && !e.refreshInFlight {
		e.refreshPending = false
		e.refreshPresence()
	}
}

// applyPresence installs a snapshot. The first snapshot of a room becomes
// the baseline silently; later ones are diffed into system events.
func (e *Session) applyPresence(rows []*entities.PresenceRecord) {
	now := e.now()
	view := e.view
	e.records = rows
	e.occupancy = e.policy.Occupancy(rows, now)
	current := e.policy.View(rows, view.room, e.self, now)
	if e.backend.Presence == nil {
		current.Members = []string{e.self}
	}

	if view.baselineSet {
		e.emitTransitions(current, now)
	}
	view.baseline = current.Members
	view.awayBaseline = current.Away
	view.baselineSet = true
	view.present = current.Members
	view.typing = lo.Filter(current.Typing, func(user string, _ int) bool {
		return !e.isBlocked(user)
	})
	view.away = lo.Filter(current.Members, func(user string, _ int) bool {
		return current.Away[user]
	})
}

func (e *Session) emitTransitions(current presence.RoomView, now time.Time) {
	view := e.view
	delta := presence.Diff(view.baseline, current.Members, e.self)
	for _, user := range delta.Joins {
		if e.addEvent(entities.EVENT_KIND_JOIN, user, now) && e.sound {
			e.notifier.MemberJoined(user, view.room)
		}
	}
	for _, user := range delta.Leaves {
		if e.addEvent(entities.EVENT_KIND_LEAVE, user, now) && e.sound {
			e.notifier.MemberLeft(user, view.room)
		}
	}
	away := presence.DiffAway(view.awayBaseline, current.Away, e.self)
	for _, user := range away.Entered {
		e.addEvent(entities.EVENT_KIND_AWAY_ENTERED, user, now)
	}
	for _, user := range away.Cleared {
		e.addEvent(entities.EVENT_KIND_AWAY_CLEARED, user, now)
	}
}

func (e *Session) addEvent(kind entities.EventKind, user string, now time.Time) bool {
	if e.isBlocked(user) {
		return false
	}
	e.view.events = append(e.view.events, &entities.SystemEvent{
		Id:      utils.NewEventId(),
		Kind:    kind,
		Subject: user,
		Text:    eventText(kind, user),
		At:      now,
	})
	metrics.SystemEvents.WithLabelValues(kind.Label()).Inc()
	return true
}

func eventText(kind entities.EventKind, user string) string {
	switch kind {
	case entities.EVENT_KIND_JOIN:
		return user + " has entered the room."
	case entities.EVENT_KIND_LEAVE:
		return user + " has left the room."
	case entities.EVENT_KIND_AWAY_ENTERED:
		return user + " is now away."
	case entities.EVENT_KIND_AWAY_CLEARED:
		return user + " is back."
	}
	return user
}
