package telemetry

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Unknown is the value of a distance channel before its first valid reading
const Unknown = -1

// Channel identifies one of the five distance sensors on the airframe
type Channel int

const (
	Front Channel = iota
	Left
	Top
	Down
	Right

	numChannels
)

// Channels lists the distance channels in the order the sensor board sends them
var Channels = [...]Channel{Front, Left, Top, Down, Right}

func (c Channel) String() string {
	switch c {
	case Front:
		return "front"
	case Left:
		return "left"
	case Top:
		return "top"
	case Down:
		return "down"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Telemetry is the state shared between the sensor feed and the flight controller.
// Every field is independently atomic, so single-field writes from the feed never
// tear against reads from the controller.
type Telemetry struct {
	channels [numChannels]atomic.Int64 // Distance readings in millimetres, Unknown until first reading

	batteryVoltage atomic.Uint64 // math.Float64bits of the pack voltage
	hasBattery     atomic.Bool

	landed        atomic.Bool // Monotonic, false -> true
	stopRequested atomic.Bool // Monotonic, false -> true
}

// New creates Telemetry with all distance channels unknown
func New() *Telemetry {
	var t Telemetry
	for i := range t.channels {
		t.channels[i].Store(Unknown)
	}
	return &t
}

// Set stores a reading for the channel. Negative readings are rejected, so a
// channel never goes back to Unknown once it holds a valid value.
func (t *Telemetry) Set(c Channel, mm int) bool {
	if c < 0 || c >= numChannels || mm < 0 {
		return false
	}
	t.channels[c].Store(int64(mm))
	return true
}

// Get returns the latest reading of the channel and whether it is known
func (t *Telemetry) Get(c Channel) (int, bool) {
	if c < 0 || c >= numChannels {
		return Unknown, false
	}
	v := int(t.channels[c].Load())
	return v, v != Unknown
}

func (t *Telemetry) Front() int { return int(t.channels[Front].Load()) }
func (t *Telemetry) Left() int  { return int(t.channels[Left].Load()) }
func (t *Telemetry) Top() int   { return int(t.channels[Top].Load()) }
func (t *Telemetry) Down() int  { return int(t.channels[Down].Load()) }
func (t *Telemetry) Right() int { return int(t.channels[Right].Load()) }

// SetBatteryVoltage records the latest pack voltage reported by the vehicle
func (t *Telemetry) SetBatteryVoltage(v float64) {
	t.batteryVoltage.Store(math.Float64bits(v))
	t.hasBattery.Store(true)
}

// BatteryVoltage returns the pack voltage, if the vehicle ever reported one
func (t *Telemetry) BatteryVoltage() (float64, bool) {
	if !t.hasBattery.Load() {
		return 0, false
	}
	return math.Float64frombits(t.batteryVoltage.Load()), true
}

// MarkLanded flags the flight as finished. It cannot be undone.
func (t *Telemetry) MarkLanded() {
	t.landed.Store(true)
}

func (t *Telemetry) Landed() bool {
	return t.landed.Load()
}

// RequestStop is called by a worker when it starts its own shutdown path.
// It cannot be undone.
func (t *Telemetry) RequestStop() {
	t.stopRequested.Store(true)
}

func (t *Telemetry) StopRequested() bool {
	return t.stopRequested.Load()
}

// Snapshot copies the current state. Fields are read one by one, so the
// snapshot is not a consistent cut across channels.
func (t *Telemetry) Snapshot() Snapshot {
	s := Snapshot{
		Front:         t.Front(),
		Left:          t.Left(),
		Top:           t.Top(),
		Down:          t.Down(),
		Right:         t.Right(),
		Landed:        t.Landed(),
		StopRequested: t.StopRequested(),
	}
	if v, ok := t.BatteryVoltage(); ok {
		s.BatteryVoltage = &v
	}
	return s
}
