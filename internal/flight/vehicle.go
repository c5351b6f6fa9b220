package flight

import (
	"context"

	"github.com/roman-kulish/indoor-pilot/internal/attitude"
)

// ModeGuidedNoGPS is the flight mode accepting attitude targets without a position fix
const ModeGuidedNoGPS = "GUIDED_NOGPS"

// Vehicle is the command and state contract of the autopilot link.
// IsArmed, CurrentYaw and BatteryVoltage report the latest state the link has
// seen and must not block.
type Vehicle interface {
	// WaitReady blocks until the autopilot is initialised or ctx is done
	WaitReady(ctx context.Context) error
	SetMode(mode string) error
	SetArmed(armed bool) error
	IsArmed() bool
	SendAttitudeTarget(t attitude.Target) error
	// CurrentYaw returns the vehicle heading in degrees
	CurrentYaw() float64
	BatteryVoltage() (float64, bool)
	Close() error
}
