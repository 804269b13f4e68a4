package interview

import (
	"sync"
	"time"
)

// EventType identifies one kind of session event.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventStateChanged    EventType = "state_changed"
	EventPromptReceived  EventType = "prompt_received"
	EventPlaybackSettled EventType = "playback_settled"
	EventTurnSubmitted   EventType = "turn_submitted"
	EventRetryOffered    EventType = "retry_offered"
	EventError           EventType = "error"
	EventSessionFinished EventType = "session_finished"
)

// Event is one entry of the session trail.
type Event struct {
	Time time.Time
	Type EventType
	Data map[string]any
}

// Trail keeps a bounded in-memory record of what happened during a session,
// for diagnostic display. Oldest events are dropped once the bound is hit.
type Trail struct {
	mu     sync.Mutex
	max    int
	events []Event
}

// NewTrail creates a trail holding at most max events.
func NewTrail(max int) *Trail {
	if max <= 0 {
		max = 256
	}
	return &Trail{max: max}
}

// Log appends an event.
func (t *Trail) Log(typ EventType, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, Event{Time: time.Now(), Type: typ, Data: data})
	if len(t.events) > t.max {
		t.events = t.events[len(t.events)-t.max:]
	}
}

// Events returns a copy of the recorded events, oldest first.
func (t *Trail) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}
