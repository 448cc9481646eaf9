package presence

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"chatcore/db/entities"
	"chatcore/roomkey"
)

// Policy decides which presence rows count for display.
type Policy struct {
	ActiveWindow      time.Duration
	TypingStaleWindow time.Duration
}

func (p Policy) IsActive(record *entities.PresenceRecord, now time.Time) bool {
	return now.Sub(record.LastActivityAt) < p.ActiveWindow
}

func (p Policy) IsTyping(record *entities.PresenceRecord, now time.Time) bool {
	if !record.IsTyping || record.TypingAt == nil {
		return false
	}
	return now.Sub(*record.TypingAt) < p.TypingStaleWindow
}

// Active filters rows down to active ones.
func (p Policy) Active(records []*entities.PresenceRecord, now time.Time) []*entities.PresenceRecord {
	return lo.Filter(records, func(item *entities.PresenceRecord, _ int) bool {
		return p.IsActive(item, now)
	})
}

// RoomView is the presence of one room as seen by one viewer.
type RoomView struct {
	Members []string
	Typing  []string
	Away    map[string]bool
}

// View computes members, typing users and away flags of room. self is
// listed as a member but never as typing.
func (p Policy) View(records []*entities.PresenceRecord, room roomkey.Key, self string, now time.Time) RoomView {
	inRoom := lo.Filter(p.Active(records, now), func(item *entities.PresenceRecord, _ int) bool {
		return item.Room == room
	})
	view := RoomView{
		Members: lo.Uniq(lo.Map(inRoom, func(item *entities.PresenceRecord, _ int) string { return item.UserId })),
		Away:    make(map[string]bool, len(inRoom)),
	}
	for _, record := range inRoom {
		view.Away[record.UserId] = record.IsAway()
		if record.UserId != self && p.IsTyping(record, now) {
			view.Typing = append(view.Typing, record.UserId)
		}
	}
	sort.Strings(view.Members)
	sort.Strings(view.Typing)
	return view
}

// Occupancy counts active users per room key.
func (p Policy) Occupancy(records []*entities.PresenceRecord, now time.Time) map[roomkey.Key]int {
	groups := lo.GroupBy(p.Active(records, now), func(item *entities.PresenceRecord) roomkey.Key {
		return item.Room
	})
	return lo.MapValues(groups, func(members []*entities.PresenceRecord, _ roomkey.Key) int {
		return len(members)
	})
}
