// Package session runs one client's view of the chat: the current room's
// deduplicated timeline, who is present and typing, and the synthetic
// join/leave events derived from presence churn.
//
// All session state is owned by the goroutine started with Run. Public
// methods post a request to that goroutine and wait for its reply; network
// calls run elsewhere and post their results back, tagged with the room
// generation they were issued for.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"chatcore/config"
	"chatcore/db/entities"
	"chatcore/logging"
	"chatcore/metrics"
	"chatcore/presence"
	"chatcore/roomkey"
	"chatcore/store"
	"chatcore/timeline"
)

var (
	ErrNotActive     = errors.New("session is not active")
	ErrEmptyBody     = errors.New("message body is empty")
	ErrClosed        = errors.New("session closed")
	ErrNoUser        = errors.New("session user is empty")
	ErrNoPreferences = errors.New("no preference store configured")
)

type State int

const (
	STATE_DISCONNECTED State = 0
	STATE_JOINING      State = 1
	STATE_ACTIVE       State = 2
	STATE_LEAVING      State = 3
)

var (
	State_name = map[State]string{
		STATE_DISCONNECTED: "STATE_DISCONNECTED",
		STATE_JOINING:      "STATE_JOINING",
		STATE_ACTIVE:       "STATE_ACTIVE",
		STATE_LEAVING:      "STATE_LEAVING",
	}
	State_value = map[string]State{
		"STATE_DISCONNECTED": STATE_DISCONNECTED,
		"STATE_JOINING":      STATE_JOINING,
		"STATE_ACTIVE":       STATE_ACTIVE,
		"STATE_LEAVING":      STATE_LEAVING,
	}
)

func (e State) String() string {
	return State_name[e]
}

// Options configures a Session. Only Self is required.
type Options struct {
	Self         string
	Room         roomkey.Key
	Timing       config.TimingConfig
	SoundEnabled bool
	Backend      store.Backend
	Prefs        Preferences
	Notifier     Notifier
	Now          func() time.Time
}

type Session struct {
	self     string
	timing   config.TimingConfig
	backend  store.Backend
	prefs    Preferences
	notifier Notifier
	sound    bool
	now      func() time.Time
	register *presence.Register
	policy   presence.Policy
	log      zerolog.Logger

	inChan      chan *sessionMessage
	done        chan struct{}
	initialRoom roomkey.Key
	runCtx      context.Context

	// owned by the Run goroutine
	state           State
	generation      uint64
	view            *roomView
	records         []*entities.PresenceRecord
	occupancy       map[roomkey.Key]int
	feedSubs        []store.Subscription
	refreshInFlight bool
	refreshPending  bool
}

func New(opts Options) (*Session, error) {
	self := strings.TrimSpace(opts.Self)
	if self == "" {
		return nil, ErrNoUser
	}
	if opts.Timing == (config.TimingConfig{}) {
		opts.Timing = config.DefaultTiming()
	}
	if err := opts.Timing.Validate(); err != nil {
		return nil, fmt.Errorf("session timing: %w", err)
	}
	if opts.Room == "" {
		opts.Room = roomkey.Default
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		self:     self,
		timing:   opts.Timing,
		backend:  opts.Backend,
		prefs:    opts.Prefs,
		notifier: opts.Notifier,
		sound:    opts.SoundEnabled,
		now:      opts.Now,
		register: presence.NewRegister(opts.Backend.Presence, self, opts.Timing, opts.Now),
		policy: presence.Policy{
			ActiveWindow:      opts.Timing.ActiveWindow,
			TypingStaleWindow: opts.Timing.TypingStaleWindow,
		},
		log:         logging.Component("session").With().Str("user", self).Logger(),
		inChan:      make(chan *sessionMessage, 64),
		done:        make(chan struct{}),
		initialRoom: opts.Room,
		occupancy:   make(map[roomkey.Key]int),
	}, nil
}

func (e *Session) Self() string {
	return e.self
}

// LocalOnly reports a session without any collaborator. Its messages never
// leave the process.
func (e *Session) LocalOnly() bool {
	return e.backend.LocalOnly()
}

// Done is closed once Run has returned.
func (e *Session) Done() <-chan struct{} {
	return e.done
}

// Run owns the session until SignOff completes or ctx is cancelled. A
// cancelled session removes its presence row in the background.
func (e *Session) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.runCtx = runCtx

	e.log.Info().Str("room", e.initialRoom.String()).Bool("local_only", e.LocalOnly()).Msg("session started")
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	heartbeat := time.NewTicker(e.timing.HeartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(e.timing.PollInterval)
	defer poll.Stop()

	e.subscribeFeed()
	e.switchRoom(e.initialRoom, true)

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			e.register.DeregisterAsync()
			e.finish()
			return
		case <-heartbeat.C:
			e.heartbeat()
		case <-poll.C:
			e.startBackgroundPoll()
		case inMsg := <-e.inChan:
			if stop := e.handle(inMsg); stop {
				e.finish()
				return
			}
		}
	}
}

func (e *Session) handle(inMsg *sessionMessage) bool {
	switch v := inMsg.Message.(type) {
	case *sendRequest:
		reply(inMsg, e.send(v.Body))
	case *incoming:
		reply(inMsg, e.consider(v.Message, v.Source))
	case *switchRequest:
		gen, err := e.switchRoom(v.Room, false)
		reply(inMsg, &switchReply{Generation: gen, Err: err})
	case *pollTrigger:
		e.onPollTrigger(v)
	case *pollTarget:
		reply(inMsg, e.pollTarget(v.Background))
	case *pollResult:
		reply(inMsg, e.onPollResult(v))
	case *presenceChanged:
		e.refreshPresence()
		reply(inMsg, struct{}{})
	case *presenceResult:
		e.onPresenceResult(v)
	case *stateRequest:
		reply(inMsg, e.state)
	case *snapshotRequest:
		reply(inMsg, e.snapshot())
	case *signOffRequest:
		e.teardown()
		e.state = STATE_LEAVING
		reply(inMsg, struct{}{})
	case *stopRequest:
		reply(inMsg, struct{}{})
		return true
	default:
		reply(inMsg, fmt.Sprintf("unhandled message %T", v))
	}
	return false
}

func reply(inMsg *sessionMessage, value any) {
	if inMsg.OutChan != nil {
		inMsg.OutChan <- value
	}
}

// ask posts message to the session goroutine and waits for the reply.
func (e *Session) ask(ctx context.Context, message any) (any, error) {
	out := make(chan any, 1)
	select {
	case e.inChan <- &sessionMessage{Message: message, OutChan: out}:
	case <-e.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-out:
		return result, nil
	case <-e.done:
		select {
		case result := <-out:
			return result, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tell posts message without waiting for a reply. It is what callbacks and
// timers use.
func (e *Session) tell(message any) {
	select {
	case e.inChan <- &sessionMessage{Message: message}:
	case <-e.done:
	}
}

func (e *Session) finish() {
	e.state = STATE_DISCONNECTED
	close(e.done)
	e.log.Info().Msg("session stopped")
}

// teardown stops timers and releases every subscription. Closing runs off
// the session goroutine since a subscription may be waiting to post to it.
func (e *Session) teardown() {
	e.closeView()
	for _, sub := range e.feedSubs {
		go closeQuietly(sub)
	}
	e.feedSubs = nil
	e.register.Close()
}

func closeQuietly(sub store.Subscription) {
	_ = sub.Close()
}

func (e *Session) subscribeFeed() {
	if e.backend.Feed == nil {
		return
	}
	messages, err := e.backend.Feed.SubscribeChanges(e.runCtx, entities.TABLE_MESSAGES,
		func(change entities.Change) {
			if change.Op != entities.CHANGE_OP_INSERT || change.Message == nil {
				return
			}
			row := *change.Message
			e.tell(&incoming{Message: &row, Source: entities.SOURCE_FEED})
		},
		func() {
			e.tell(&pollTrigger{Reason: reasonReady})
		})
	if err != nil {
		e.log.Warn().Err(err).Msg("message feed unavailable")
	} else {
		e.feedSubs = append(e.feedSubs, messages)
	}

	if e.backend.Presence == nil {
		return
	}
	people, err := e.backend.Feed.SubscribeChanges(e.runCtx, entities.TABLE_PRESENCE,
		func(entities.Change) {
			e.tell(&presenceChanged{})
		},
		func() {
			e.tell(&presenceChanged{})
		})
	if err != nil {
		e.log.Warn().Err(err).Msg("presence feed unavailable")
	} else {
		e.feedSubs = append(e.feedSubs, people)
	}
}

func (e *Session) heartbeat() {
	if e.state != STATE_ACTIVE || e.backend.Presence == nil {
		return
	}
	ctx := e.runCtx
	go func() {
		if err := e.register.Heartbeat(ctx); err != nil {
			e.log.Warn().Err(err).Msg("heartbeat failed")
		}
	}()
	e.refreshPresence()
}

// State returns the lifecycle state.
func (e *Session) State(ctx context.Context) (State, error) {
	result, err := e.ask(ctx, &stateRequest{})
	if err != nil {
		return STATE_DISCONNECTED, err
	}
	return result.(State), nil
}

// SetTyping marks the user typing in the current room.
func (e *Session) SetTyping(ctx context.Context) error {
	state, err := e.State(ctx)
	if err != nil {
		return err
	}
	if state != STATE_ACTIVE {
		return ErrNotActive
	}
	return e.register.SetTyping(ctx)
}

// SetAway sets the away message, or clears it with mo.None.
func (e *Session) SetAway(ctx context.Context, text mo.Option[string]) error {
	if _, err := e.State(ctx); err != nil {
		return err
	}
	return e.register.SetAway(ctx, text)
}

// SignOff leaves the room, deletes the presence row and stops the session.
func (e *Session) SignOff(ctx context.Context) error {
	if _, err := e.ask(ctx, &signOffRequest{}); err != nil {
		return err
	}
	err := e.register.Deregister(ctx)
	if _, stopErr := e.ask(ctx, &stopRequest{}); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

// Block hides userId from the timeline, typing list and system events.
func (e *Session) Block(ctx context.Context, userId string) error {
	if e.prefs == nil {
		return ErrNoPreferences
	}
	if err := e.prefs.Block(userId); err != nil {
		return err
	}
	_, err := e.ask(ctx, &presenceChanged{})
	return err
}

func (e *Session) Unblock(ctx context.Context, userId string) error {
	if e.prefs == nil {
		return ErrNoPreferences
	}
	if err := e.prefs.Unblock(userId); err != nil {
		return err
	}
	_, err := e.ask(ctx, &presenceChanged{})
	return err
}

func (e *Session) Warn(userId string) (entities.UserWarning, error) {
	if e.prefs == nil {
		return entities.UserWarning{}, ErrNoPreferences
	}
	return e.prefs.Warn(userId)
}

func (e *Session) isBlocked(userId string) bool {
	return e.prefs != nil && userId != e.self && e.prefs.IsBlocked(userId)
}

// View is a consistent copy of the session state at one instant.
type View struct {
	State        State
	Room         roomkey.Key
	Generation   uint64
	Items        []entities.ChatItem
	PresentUsers []string
	TypingUsers  []string
	AwayUsers    []string
	PollCursor   time.Time
	SeenCount    int
	Occupancy    map[roomkey.Key]int
	LocalOnly    bool
}

// Snapshot returns the current view. Items from blocked users are left out.
func (e *Session) Snapshot(ctx context.Context) (*View, error) {
	result, err := e.ask(ctx, &snapshotRequest{})
	if err != nil {
		return nil, err
	}
	return result.(*View), nil
}

func (e *Session) snapshot() *View {
	view := e.view
	messages := lo.Filter(view.messages.List(), func(item *entities.Message, _ int) bool {
		return !e.isBlocked(item.Sender)
	})
	events := lo.Filter(view.events, func(item *entities.SystemEvent, _ int) bool {
		return !e.isBlocked(item.Subject)
	})
	occupancy := make(map[roomkey.Key]int, len(e.occupancy))
	for key, count := range e.occupancy {
		occupancy[key] = count
	}
	return &View{
		State:        e.state,
		Room:         view.room,
		Generation:   view.generation,
		Items:        timeline.Merge(messages, events),
		PresentUsers: append([]string(nil), view.present...),
		TypingUsers:  append([]string(nil), view.typing...),
		AwayUsers:    append([]string(nil), view.away...),
		PollCursor:   view.cursor,
		SeenCount:    len(view.seen),
		Occupancy:    occupancy,
		LocalOnly:    e.LocalOnly(),
	}
}
