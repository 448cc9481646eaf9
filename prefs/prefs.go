// Package prefs persists the viewer's local preferences: the block list and
// the warning levels given to other users. Nothing here is shared with other
// sessions.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"chatcore/db/entities"
	"chatcore/logging"
)

const (
	WarnStep     = 20
	MaxWarnLevel = 100

	blockedPrefix = "blocked/"
	warnPrefix    = "warn/"
)

var ErrEmptyUser = errors.New("empty user id")

// Store keeps preferences of one viewer. An empty path keeps everything in
// memory for the lifetime of the process.
type Store struct {
	db     *pebble.DB
	viewer string
	log    zerolog.Logger

	mu      sync.RWMutex
	blocked map[string]struct{}
}

func Open(path string, viewer string) (*Store, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
		path = "prefs"
	} else if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create prefs dir: %w", err)
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open prefs: %w", err)
	}
	e := &Store{
		db:      db,
		viewer:  viewer,
		log:     logging.Component("prefs").With().Str("viewer", viewer).Logger(),
		blocked: make(map[string]struct{}),
	}
	if err := e.loadBlocked(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Store) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Store) blockedKey(userId string) []byte {
	return []byte(blockedPrefix + e.viewer + "/" + userId)
}

func (e *Store) warnKey(userId string) []byte {
	return []byte(warnPrefix + e.viewer + "/" + userId)
}

func (e *Store) loadBlocked() error {
	prefix := blockedPrefix + e.viewer + "/"
	iter, err := e.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return fmt.Errorf("scan block list: %w", err)
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		e.blocked[strings.TrimPrefix(string(iter.Key()), prefix)] = struct{}{}
	}
	return iter.Error()
}

// Block hides userId from the viewer's timeline and system events.
func (e *Store) Block(userId string) error {
	if userId == "" {
		return ErrEmptyUser
	}
	data, err := json.Marshal(entities.BlockedUser{UserId: userId, BlockedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := e.db.Set(e.blockedKey(userId), data, pebble.Sync); err != nil {
		return fmt.Errorf("block %s: %w", userId, err)
	}
	e.mu.Lock()
	e.blocked[userId] = struct{}{}
	e.mu.Unlock()
	e.log.Info().Str("blocked", userId).Msg("user blocked")
	return nil
}

func (e *Store) Unblock(userId string) error {
	if err := e.db.Delete(e.blockedKey(userId), pebble.Sync); err != nil {
		return fmt.Errorf("unblock %s: %w", userId, err)
	}
	e.mu.Lock()
	delete(e.blocked, userId)
	e.mu.Unlock()
	e.log.Info().Str("unblocked", userId).Msg("user unblocked")
	return nil
}

// IsBlocked is called on the delivery path and never touches disk.
func (e *Store) IsBlocked(userId string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.blocked[userId]
	return ok
}

// Blocked lists the viewer's block list, oldest first.
func (e *Store) Blocked() ([]entities.BlockedUser, error) {
	prefix := blockedPrefix + e.viewer + "/"
	iter, err := e.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("list block list: %w", err)
	}
	defer iter.Close()

	result := make([]entities.BlockedUser, 0)
	for ok := iter.First(); ok; ok = iter.Next() {
		var item entities.BlockedUser
		if err := json.Unmarshal(iter.Value(), &item); err != nil {
			e.log.Warn().Err(err).Str("key", string(iter.Key())).Msg("skipping corrupt block entry")
			continue
		}
		result = append(result, item)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].BlockedAt.Before(result[j].BlockedAt) })
	return result, nil
}

// Warn raises the warning level of userId by WarnStep, capped at
// MaxWarnLevel, and returns the new level.
func (e *Store) Warn(userId string) (entities.UserWarning, error) {
	if userId == "" {
		return entities.UserWarning{}, ErrEmptyUser
	}
	current, err := e.WarningLevel(userId)
	if err != nil {
		return entities.UserWarning{}, err
	}
	level := current + WarnStep
	if level > MaxWarnLevel {
		level = MaxWarnLevel
	}
	if err := e.db.Set(e.warnKey(userId), []byte(strconv.Itoa(level)), pebble.Sync); err != nil {
		return entities.UserWarning{}, fmt.Errorf("warn %s: %w", userId, err)
	}
	e.log.Info().Str("warned", userId).Int("level", level).Msg("user warned")
	return entities.UserWarning{UserId: userId, Level: level}, nil
}

// WarningLevel returns 0 for users never warned.
func (e *Store) WarningLevel(userId string) (int, error) {
	value, closer, err := e.db.Get(e.warnKey(userId))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read warning level: %w", err)
	}
	defer closer.Close()
	level, err := strconv.Atoi(string(value))
	if err != nil {
		return 0, fmt.Errorf("corrupt warning level for %s: %w", userId, err)
	}
	return level, nil
}
