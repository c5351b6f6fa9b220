package attitude

import "math"

// Quaternion is a rotation in the (w, x, y, z) order used by MAVLink attitude targets
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the zero rotation
var Identity = Quaternion{W: 1}

// FromEuler converts roll, pitch and yaw in degrees into a unit quaternion,
// composed in the aerospace roll-pitch-yaw order. Callers never renormalize.
func FromEuler(rollDeg, pitchDeg, yawDeg float64) Quaternion {
	cy, sy := halfAngle(yawDeg)
	cr, sr := halfAngle(rollDeg)
	cp, sp := halfAngle(pitchDeg)

	return Quaternion{
		W: cy*cr*cp + sy*sr*sp,
		X: cy*sr*cp - sy*cr*sp,
		Y: cy*cr*sp + sy*sr*cp,
		Z: sy*cr*cp - cy*sr*sp,
	}
}

func halfAngle(deg float64) (cos, sin float64) {
	rad := Radians(deg * 0.5)
	return math.Cos(rad), math.Sin(rad)
}

// Norm returns the quaternion length
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Float32 returns the components in wire order
func (q Quaternion) Float32() [4]float32 {
	return [4]float32{float32(q.W), float32(q.X), float32(q.Y), float32(q.Z)}
}

// Radians converts degrees to radians
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts radians to degrees
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
