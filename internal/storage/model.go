package storage

import (
	"time"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

// Flight is one recorded run of the pilot
type Flight struct {
	ID           int64
	StartTime    time.Time
	EndTime      *time.Time // Nil while the flight is in progress or if the pilot crashed
	Vehicle      string
	Config       *string // JSON snapshot of the configuration
	Ticks        int64
	PeakAltitude *int // mm
}

// Duration returns the flight duration, zero if the flight never finished
func (f *Flight) Duration() time.Duration {
	if f.EndTime == nil {
		return 0
	}
	return f.EndTime.Sub(f.StartTime)
}

// TickRecord is a stored controller tick together with the sensor readings
// seen at the time
type TickRecord struct {
	ID int64
	flight.Tick

	Front          int // mm, telemetry.Unknown if not recorded
	Left           int
	Top            int
	Right          int
	BatteryVoltage *float64
}

// NewTickRecord combines a tick with a telemetry snapshot
func NewTickRecord(t flight.Tick, s *telemetry.Snapshot) TickRecord {
	r := TickRecord{
		Tick:  t,
		Front: telemetry.Unknown,
		Left:  telemetry.Unknown,
		Top:   telemetry.Unknown,
		Right: telemetry.Unknown,
	}

	if s != nil {
		r.Front = s.Front
		r.Left = s.Left
		r.Top = s.Top
		r.Right = s.Right
		r.BatteryVoltage = s.BatteryVoltage
	}

	return r
}
