package engine

import (
	"fmt"
	"time"
)

// Decision log: why the simulator did (or did not) trade

type EventType int

const (
	EventLevelsGenerated EventType = iota
	EventCandidates
	EventEntry
	EventExit
	EventForcedExit
	EventLevelLocked
	EventLevelUnlocked
	EventLevelBurned
	EventSkippedLocked
	EventFilteredOpeningRange
	EventGapCreated
	EventGapFilled
)

var eventNames = map[EventType]string{
	EventLevelsGenerated:      "levels",
	EventCandidates:           "check",
	EventEntry:                "entry",
	EventExit:                 "exit",
	EventForcedExit:           "forced_exit",
	EventLevelLocked:          "lock",
	EventLevelUnlocked:        "unlock",
	EventLevelBurned:          "burn",
	EventSkippedLocked:        "skip_locked",
	EventFilteredOpeningRange: "or_filter",
	EventGapCreated:           "gap_created",
	EventGapFilled:            "gap_filled",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EventType) UnmarshalText(b []byte) error {
	for k, name := range eventNames {
		if name == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", string(b))
}

type Event struct {
	Time    time.Time `json:"time"`
	Type    EventType `json:"type"`
	Level   LevelTag  `json:"level,omitempty"`
	Price   float64   `json:"price,omitempty"`
	Message string    `json:"message,omitempty"`
}

// EventLog collects events; a nil log discards them
type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) {
	if l == nil {
		return
	}
	l.Events = append(l.Events, e)
}

// Filter returns the events of the given type
func (l *EventLog) Filter(t EventType) []Event {
	if l == nil {
		return nil
	}
	var out []Event
	for _, e := range l.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
