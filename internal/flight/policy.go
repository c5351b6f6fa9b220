package flight

import (
	"math"
	"time"
)

// Limits are the altitude and thrust constants of a flight
type Limits struct {
	TargetAltitude int     // Takeoff target, mm
	TriggerRatio   float64 // Fraction of TargetAltitude at which the ramp ends
	LandAltitude   int     // Landing ends at or below this altitude, mm
	SlowZoneRatio  float64 // Multiple of LandAltitude below which the slow landing thrust is used

	ThrustStart       float64
	ThrustStep        float64
	MaxTakeoffThrust  float64
	NeededClimb       int // Minimum climb in mm since the last increment to keep ramping
	HoldThrust        float64
	LandingThrust     float64
	SlowLandingThrust float64
	DisarmThrust      float64

	CriticalVoltage float64 // Pack voltage below which a warning is logged, V
}

// DefaultLimits returns the limits tuned for the indoor airframe
func DefaultLimits() Limits {
	return Limits{
		TargetAltitude:    750,
		TriggerRatio:      0.95,
		LandAltitude:      80,
		SlowZoneRatio:     2.5,
		ThrustStart:       0.30,
		ThrustStep:        0.005,
		MaxTakeoffThrust:  0.55,
		NeededClimb:       5,
		HoldThrust:        0.5,
		LandingThrust:     0.45,
		SlowLandingThrust: 0.35,
		DisarmThrust:      0.1,
		CriticalVoltage:   4 * 3.4,
	}
}

// TakeoffTrigger returns the altitude in whole millimetres at which the ramp
// hands over to holding, 712 for the default limits
func (l Limits) TakeoffTrigger() int {
	return int(math.Floor(float64(l.TargetAltitude) * l.TriggerRatio))
}

// Timing are the loop periods of the controller
type Timing struct {
	Tick             time.Duration // Attitude target cadence
	Poll             time.Duration // Sensor, arm and disarm polling
	Hold             time.Duration // Time spent holding at target altitude
	ArmCountdown     time.Duration // Pause before arming
	TakeoffCountdown time.Duration // Pause between armed and the first ramp tick
}

func DefaultTiming() Timing {
	return Timing{
		Tick:             200 * time.Millisecond,
		Poll:             time.Second,
		Hold:             10 * time.Second,
		ArmCountdown:     5 * time.Second,
		TakeoffCountdown: 3 * time.Second,
	}
}

// Ramp is the state of the takeoff thrust ramp
type Ramp struct {
	Thrust       float64
	LastAltitude int  // Altitude at the last increment
	HasLast      bool // False until the first increment
	Frozen       bool // Climb stalled, thrust no longer changes
}

// NewRamp starts a ramp at the initial takeoff thrust
func NewRamp(l Limits) Ramp {
	return Ramp{Thrust: l.ThrustStart}
}

// TakeoffStep advances the ramp by one tick. Thrust grows by ThrustStep while
// the vehicle keeps climbing at least NeededClimb per increment, is capped at
// MaxTakeoffThrust and is frozen for good once the climb stalls.
func TakeoffStep(r Ramp, down int, l Limits) Ramp {
	if r.Frozen {
		return r
	}

	if r.HasLast && down-r.LastAltitude < l.NeededClimb {
		r.Frozen = true
		return r
	}

	r.Thrust = min(r.Thrust+l.ThrustStep, l.MaxTakeoffThrust)
	r.LastAltitude = down
	r.HasLast = true

	return r
}

// LandingThrust returns the descent thrust for the current altitude
func LandingThrust(down int, l Limits) float64 {
	if float64(down) > float64(l.LandAltitude)*l.SlowZoneRatio {
		return l.LandingThrust
	}
	return l.SlowLandingThrust
}

// Landed reports whether the landing descent is complete
func Landed(down int, l Limits) bool {
	return down <= l.LandAltitude
}
