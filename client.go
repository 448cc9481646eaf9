package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/mo"

	"chatcore/config"
	"chatcore/db"
	"chatcore/db/entities"
	"chatcore/prefs"
	"chatcore/relay"
	"chatcore/roomkey"
	"chatcore/session"
	"chatcore/store"
	"chatcore/utils"
)

const renderInterval = 300 * time.Millisecond

// bell rings the terminal for the audible cues.
type bell struct {
	out io.Writer
}

func (e bell) MessageReceived(*entities.Message) { fmt.Fprint(e.out, "\a") }

func (e bell) MemberJoined(string, roomkey.Key) { fmt.Fprint(e.out, "\a") }

func (e bell) MemberLeft(string, roomkey.Key) { fmt.Fprint(e.out, "\a") }

type client struct {
	session *session.Session
	prefs   *prefs.Store
	chatDb  *db.ChatDB
	out     io.Writer

	generation uint64
	printed    map[string]bool
	typing     string
}

func runClient(ctx context.Context, cfg *config.Config) error {
	self := strings.TrimSpace(cfg.Session.User)
	if self == "" {
		return errors.New("client mode needs -user")
	}

	var backend store.Backend
	var chatDb *db.ChatDB
	if cfg.Store.DatabaseURL != "" {
		var err error
		chatDb, err = db.SetupDatabase(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer chatDb.Close()
		if cfg.Store.Migrate {
			if err := chatDb.Migrate(ctx); err != nil {
				return err
			}
		}
		backend = chatDb.Backend()
	}
	if cfg.Relay.Address != "" {
		creds, err := relay.TransportCredentials(cfg.Relay.TLS)
		if err != nil {
			return err
		}
		relayClient, err := relay.Dial(cfg.Relay.Address, self, creds)
		if err != nil {
			return err
		}
		defer relayClient.Close()
		backend.Broadcast = relayClient
	}

	preferences, err := prefs.Open(cfg.Prefs.Path, self)
	if err != nil {
		return err
	}
	defer preferences.Close()

	if cfg.Metrics.Address != "" {
		defer stopHttp(startHttp(cfg.Metrics.Address, metricsRouter()))
	}

	s, err := session.New(session.Options{
		Self:         self,
		Room:         roomkey.Parse(cfg.Session.Room),
		Timing:       cfg.Timing,
		SoundEnabled: cfg.Session.SoundEnabled,
		Backend:      backend,
		Prefs:        preferences,
		Notifier:     bell{out: os.Stdout},
	})
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.Run(runCtx)

	c := &client{session: s, prefs: preferences, chatDb: chatDb, out: os.Stdout, printed: make(map[string]bool)}
	if s.LocalOnly() {
		fmt.Fprintln(c.out, "*** local-only mode: no store or relay configured, nobody else will see you ***")
	}
	return c.loop(runCtx, os.Stdin)
}

func (e *client) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.session.Done():
			return nil
		case <-ticker.C:
			e.render(ctx)
		case line, ok := <-lines:
			if !ok {
				return e.quit()
			}
			quit, err := e.handle(ctx, line)
			if err != nil {
				fmt.Fprintln(e.out, "!", err)
			}
			if quit {
				return e.quit()
			}
			e.render(ctx)
		}
	}
}

func (e *client) quit() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.session.SignOff(ctx); err != nil && !errors.Is(err, session.ErrClosed) {
		return err
	}
	return nil
}

func (e *client) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		if strings.TrimSpace(line) == "" {
			return false, nil
		}
		_, err := e.session.Send(ctx, line)
		return false, err
	}

	command, arg := splitCommand(line)
	switch command {
	case "/quit":
		return true, nil
	case "/join":
		return false, e.join(ctx, roomkey.Parse(arg))
	case "/create":
		return false, e.create(ctx, arg)
	case "/away":
		text := mo.None[string]()
		if arg != "" {
			text = mo.Some(arg)
		}
		return false, e.session.SetAway(ctx, text)
	case "/back":
		return false, e.session.SetAway(ctx, mo.None[string]())
	case "/typing":
		return false, e.session.SetTyping(ctx)
	case "/block":
		return false, e.session.Block(ctx, arg)
	case "/unblock":
		return false, e.session.Unblock(ctx, arg)
	case "/blocked":
		blocked, err := e.prefs.Blocked()
		if err != nil {
			return false, err
		}
		for _, b := range blocked {
			fmt.Fprintf(e.out, "  %s (since %s)\n", b.UserId, b.BlockedAt.Format(time.Kitchen))
		}
		return false, nil
	case "/warn":
		warning, err := e.session.Warn(arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(e.out, "* %s is now at warning level %d%%\n", warning.UserId, warning.Level)
		return false, nil
	case "/who":
		return false, e.who(ctx)
	case "/refresh":
		n, err := e.session.Poll(ctx)
		if err == nil {
			fmt.Fprintf(e.out, "* %d new message(s)\n", n)
		}
		return false, err
	case "/rooms":
		return false, e.rooms(ctx)
	default:
		return false, fmt.Errorf("unknown command %s", command)
	}
}

// join checks private room ids against the store when there is one.
func (e *client) join(ctx context.Context, key roomkey.Key) error {
	if id, ok := key.PrivateId(); ok && e.chatDb != nil {
		room, err := e.chatDb.RoomDao.FindRoom(ctx, id)
		if err != nil {
			return err
		}
		if room.IsAbsent() {
			return fmt.Errorf("no room %s", key)
		}
	}
	return e.session.SwitchRoom(ctx, key)
}

// create makes a room in the store and joins it. "/create -p title" makes it
// private.
func (e *client) create(ctx context.Context, arg string) error {
	if e.chatDb == nil {
		return errors.New("rooms can only be created with a store configured")
	}
	title, private := strings.CutPrefix(arg, "-p ")
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("usage: /create [-p] title")
	}
	room, err := e.chatDb.RoomDao.CreateRoom(ctx, title, private)
	if err != nil {
		return err
	}
	return e.session.SwitchRoom(ctx, room.Key())
}

func (e *client) who(ctx context.Context) error {
	view, err := e.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "* in %s: %s\n", view.Room, strings.Join(view.PresentUsers, ", "))
	if len(view.AwayUsers) > 0 {
		fmt.Fprintf(e.out, "* away: %s\n", strings.Join(view.AwayUsers, ", "))
	}
	return nil
}

func (e *client) rooms(ctx context.Context) error {
	view, err := e.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if e.chatDb == nil {
		for _, key := range utils.SortedKeys(view.Occupancy) {
			fmt.Fprintf(e.out, "  %s (%d)\n", key, view.Occupancy[key])
		}
		return nil
	}
	rooms, err := e.chatDb.RoomDao.GetRooms(ctx)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Fprintf(e.out, "  %s (%d)\n", r.Key(), view.Occupancy[r.Key()])
	}
	return nil
}

// render prints timeline items not shown yet and typing changes.
func (e *client) render(ctx context.Context) {
	view, err := e.session.Snapshot(ctx)
	if err != nil {
		return
	}
	if view.Generation != e.generation {
		e.generation = view.Generation
		e.printed = make(map[string]bool)
		fmt.Fprintf(e.out, "=== %s ===\n", view.Room)
	}
	for _, item := range view.Items {
		if e.printed[item.Id()] {
			continue
		}
		e.printed[item.Id()] = true
		if item.IsMessage() {
			fmt.Fprintf(e.out, "[%s] %s: %s\n", item.At().Format(time.Kitchen), item.Message.Sender, item.Message.Body)
		} else {
			fmt.Fprintf(e.out, "[%s] * %s\n", item.At().Format(time.Kitchen), item.Event.Text)
		}
	}
	typing := strings.Join(view.TypingUsers, ", ")
	if typing != e.typing {
		e.typing = typing
		if typing != "" {
			fmt.Fprintf(e.out, "  (%s typing...)\n", typing)
		}
	}
}
