package entities

type EventKind int

const (
	EVENT_KIND_UNKNOWN      EventKind = -1
	EVENT_KIND_JOIN         EventKind = 0
	EVENT_KIND_LEAVE        EventKind = 1
	EVENT_KIND_AWAY_ENTERED EventKind = 2
	EVENT_KIND_AWAY_CLEARED EventKind = 3
)

var (
	EventKind_name = map[EventKind]string{
		EVENT_KIND_JOIN:         "EVENT_KIND_JOIN",
		EVENT_KIND_LEAVE:        "EVENT_KIND_LEAVE",
		EVENT_KIND_AWAY_ENTERED: "EVENT_KIND_AWAY_ENTERED",
		EVENT_KIND_AWAY_CLEARED: "EVENT_KIND_AWAY_CLEARED",
	}
	EventKind_value = map[string]EventKind{
		"EVENT_KIND_JOIN":         EVENT_KIND_JOIN,
		"EVENT_KIND_LEAVE":        EVENT_KIND_LEAVE,
		"EVENT_KIND_AWAY_ENTERED": EVENT_KIND_AWAY_ENTERED,
		"EVENT_KIND_AWAY_CLEARED": EVENT_KIND_AWAY_CLEARED,
	}
)

func ParseEventKind(value string) EventKind {
	if s, ok := EventKind_value[value]; ok {
		return s
	} else {
		return EVENT_KIND_UNKNOWN
	}
}

func (e EventKind) String() string {
	return EventKind_name[e]
}

// Label is the short lowercase form used in logs, metrics and the terminal client.
func (e EventKind) Label() string {
	switch e {
	case EVENT_KIND_JOIN:
		return "join"
	case EVENT_KIND_LEAVE:
		return "leave"
	case EVENT_KIND_AWAY_ENTERED:
		return "away"
	case EVENT_KIND_AWAY_CLEARED:
		return "back"
	}
	return "unknown"
}
