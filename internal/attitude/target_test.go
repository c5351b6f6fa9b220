package attitude

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTarget(t *testing.T) {
	tg := NewTarget(0, 0, 90, 30, 0.45)

	assert.InDelta(t, math.Pi/6, tg.BodyYawRate, 1e-12)
	assert.Zero(t, tg.BodyRollRate)
	assert.Zero(t, tg.BodyPitchRate)
	assert.False(t, tg.UseYawRate)
	assert.Equal(t, 0.45, tg.Thrust)
	assert.InDelta(t, 1, tg.Q.Norm(), 1e-9)
}

func TestNewTarget_ClampsThrust(t *testing.T) {
	assert.Equal(t, 0.0, NewTarget(0, 0, 0, 0, -0.2).Thrust)
	assert.Equal(t, 1.0, NewTarget(0, 0, 0, 0, 1.7).Thrust)
}

func TestNeutral(t *testing.T) {
	tg := Neutral(0, 0.3)

	assert.Equal(t, Identity, tg.Q)
	assert.Zero(t, tg.BodyYawRate)
	assert.Equal(t, 0.3, tg.Thrust)
}
