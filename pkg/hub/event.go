package hub

import "time"

// Event types published by the bot.
const (
	EventSessionStarted    = "session.started"
	EventSessionEnded      = "session.ended"
	EventChatReset         = "chat.reset"
	EventTurnDispatched    = "turn.dispatched"
	EventTurnDropped       = "turn.dropped"
	EventToolCalled        = "tool.called"
	EventAnswer            = "answer"
	EventPlaybackFinished  = "playback.finished"
	EventPlaybackAbandoned = "playback.abandoned"
)

// Event is one message on the live feed.
type Event struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(typ, session string, data any) Event {
	return Event{Type: typ, Time: time.Now().UTC(), Session: session, Data: data}
}
