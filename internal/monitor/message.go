package monitor

import (
	"time"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
)

// Message types pushed to monitors
const (
	TypeTick  = "tick"
	TypePhase = "phase"
)

// Message is the JSON envelope published by the monitors
type Message struct {
	Type string       `json:"type"`
	Tick *flight.Tick `json:"tick,omitempty"`

	// Phase change
	Time *time.Time    `json:"time,omitempty"`
	From *flight.Phase `json:"from,omitempty"`
	To   *flight.Phase `json:"to,omitempty"`
}

func tickMessage(t flight.Tick) Message {
	return Message{Type: TypeTick, Tick: &t}
}

func phaseMessage(from, to flight.Phase) Message {
	now := time.Now()
	return Message{Type: TypePhase, Time: &now, From: &from, To: &to}
}
