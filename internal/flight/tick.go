package flight

import "time"

// Tick is one attitude command sent by the controller
type Tick struct {
	Time     time.Time `json:"time"`
	Phase    Phase     `json:"phase"`
	Altitude int       `json:"altitude"` // Down distance at the time of the command, mm
	Thrust   float64   `json:"thrust"`
	Yaw      float64   `json:"yaw"` // Degrees
}

// Sink receives every tick. Record is called on the controller goroutine
// and must not block.
type Sink interface {
	Record(t Tick)
}

// PhaseObserver is implemented by sinks that also want phase transitions
type PhaseObserver interface {
	PhaseChanged(from, to Phase)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(t Tick)

func (f SinkFunc) Record(t Tick) { f(t) }
