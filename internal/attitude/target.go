package attitude

// Target is one attitude command for the vehicle. A fresh Target is built for
// every control tick and never retained.
type Target struct {
	Q             Quaternion
	BodyRollRate  float64 // rad/s, always 0 in this controller
	BodyPitchRate float64 // rad/s, always 0 in this controller
	BodyYawRate   float64 // rad/s
	Thrust        float64 // Fraction of maximum vertical thrust, 0.5 holds altitude
	UseYawRate    bool    // When false the vehicle follows the yaw encoded in Q
}

// NewTarget builds a target from angles in degrees and a yaw rate in degrees/second.
// Yaw is taken from the quaternion, the yaw rate is carried but ignored by the vehicle.
func NewTarget(rollDeg, pitchDeg, yawDeg, yawRateDeg, thrust float64) Target {
	return Target{
		Q:           FromEuler(rollDeg, pitchDeg, yawDeg),
		BodyYawRate: Radians(yawRateDeg),
		Thrust:      clampThrust(thrust),
	}
}

// Neutral is sent after a timed command to cancel the target the vehicle would
// otherwise keep applying for a short while: level attitude, yaw held at yawDeg.
func Neutral(yawDeg, thrust float64) Target {
	return NewTarget(0, 0, yawDeg, 0, thrust)
}

func clampThrust(thrust float64) float64 {
	switch {
	case thrust < 0:
		return 0
	case thrust > 1:
		return 1
	default:
		return thrust
	}
}
