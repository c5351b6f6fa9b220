package flight

import "fmt"

// Phase is the state of the flight controller
type Phase int32

const (
	WaitingForSensors Phase = iota
	Arming
	TakeoffRamp
	Holding
	Landing
	Disarming
	Stopped
)

func (p Phase) String() string {
	switch p {
	case WaitingForSensors:
		return "waiting_for_sensors"
	case Arming:
		return "arming"
	case TakeoffRamp:
		return "takeoff_ramp"
	case Holding:
		return "holding"
	case Landing:
		return "landing"
	case Disarming:
		return "disarming"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Airborne reports whether the vehicle may be off the ground in this phase
func (p Phase) Airborne() bool {
	return p == TakeoffRamp || p == Holding || p == Landing
}

// ParsePhase is the reverse of Phase.String
func ParsePhase(s string) (Phase, error) {
	for p := WaitingForSensors; p <= Stopped; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	v, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
