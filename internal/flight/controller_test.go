package flight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/indoor-pilot/internal/attitude"
	"github.com/roman-kulish/indoor-pilot/internal/rangefinder"
	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

type fakeVehicle struct {
	mu sync.Mutex

	blockReady bool
	rejectArm  int // number of SetArmed(true) calls rejected before arming
	battery    float64

	armed      bool
	mode       string
	armCalls   int
	targets    []attitude.Target
	closed     bool
	closeError error
}

func (v *fakeVehicle) WaitReady(ctx context.Context) error {
	if v.blockReady {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (v *fakeVehicle) SetMode(mode string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = mode
	return nil
}

func (v *fakeVehicle) SetArmed(armed bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !armed {
		v.armed = false
		return nil
	}

	v.armCalls++
	if v.armCalls <= v.rejectArm {
		return errors.New("prearm check failed")
	}
	v.armed = true
	return nil
}

func (v *fakeVehicle) IsArmed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.armed
}

func (v *fakeVehicle) SendAttitudeTarget(t attitude.Target) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.targets = append(v.targets, t)
	return nil
}

func (v *fakeVehicle) CurrentYaw() float64 { return 90 }

func (v *fakeVehicle) BatteryVoltage() (float64, bool) {
	return v.battery, v.battery > 0
}

func (v *fakeVehicle) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return v.closeError
}

func (v *fakeVehicle) snapshot() (targets []attitude.Target, mode string, armCalls int, closed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]attitude.Target(nil), v.targets...), v.mode, v.armCalls, v.closed
}

// recorder collects ticks and phase changes, onTick runs on the controller goroutine
type recorder struct {
	mu     sync.Mutex
	ticks  []Tick
	phases []Phase
	onTick func(t Tick)
}

func (r *recorder) Record(t Tick) {
	r.mu.Lock()
	r.ticks = append(r.ticks, t)
	r.mu.Unlock()

	if r.onTick != nil {
		r.onTick(t)
	}
}

func (r *recorder) PhaseChanged(_, to Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, to)
}

func (r *recorder) recorded() ([]Tick, []Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Tick(nil), r.ticks...), append([]Phase(nil), r.phases...)
}

func fastTiming() Timing {
	return Timing{
		Tick: time.Millisecond,
		Poll: time.Millisecond,
		Hold: 5 * time.Millisecond,
	}
}

func runController(t *testing.T, c *Controller, ctx context.Context) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func TestController_FullFlight(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Front, 100)
	tm.Set(telemetry.Top, 900)
	tm.Set(telemetry.Down, 50)

	v := &fakeVehicle{rejectArm: 2, battery: 13.1}
	rec := &recorder{}
	rec.onTick = func(tk Tick) {
		switch tk.Phase {
		case TakeoffRamp:
			tm.Set(telemetry.Down, tk.Altitude+40)
		case Landing:
			tm.Set(telemetry.Down, max(tk.Altitude-150, 0))
		}
	}

	c := NewController(v, tm, WithTiming(fastTiming()), WithSinks(rec))
	waitDone(t, runController(t, c, context.Background()))

	ticks, phases := rec.recorded()
	assert.Equal(t, []Phase{Arming, TakeoffRamp, Holding, Landing, Disarming, Stopped}, phases)
	assert.Equal(t, Stopped, c.Phase())

	targets, mode, armCalls, closed := v.snapshot()
	assert.Equal(t, ModeGuidedNoGPS, mode)
	assert.Equal(t, 3, armCalls)
	assert.True(t, closed)
	assert.NotEmpty(t, targets)
	assert.False(t, v.IsArmed())

	assert.True(t, tm.Landed())
	assert.False(t, tm.StopRequested())
	voltage, ok := tm.BatteryVoltage()
	assert.True(t, ok)
	assert.Equal(t, 13.1, voltage)

	assert.Equal(t, uint64(len(ticks)), c.Ticks())
	assert.GreaterOrEqual(t, c.PeakAltitude(), 712)

	var prev float64
	for _, tk := range ticks {
		if tk.Phase != TakeoffRamp {
			continue
		}
		assert.GreaterOrEqual(t, tk.Thrust, prev)
		assert.LessOrEqual(t, tk.Thrust, 0.55)
		prev = tk.Thrust
	}
}

func TestController_SensorsThenArming(t *testing.T) {
	tm := telemetry.New()
	v := &fakeVehicle{blockReady: true}
	rec := &recorder{}

	c := NewController(v, tm, WithTiming(fastTiming()), WithSinks(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := runController(t, c, ctx)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, WaitingForSensors, c.Phase())

	r, ok := rangefinder.ParseLine("120,300,750,712,400\n")
	require.True(t, ok)
	r.Apply(tm)

	require.Eventually(t, func() bool { return c.Phase() == Arming }, time.Second, time.Millisecond)

	s := tm.Snapshot()
	assert.Equal(t, 120, s.Front)
	assert.Equal(t, 300, s.Left)
	assert.Equal(t, 750, s.Top)
	assert.Equal(t, 712, s.Down)
	assert.Equal(t, 400, s.Right)

	cancel()
	waitDone(t, done)

	_, phases := rec.recorded()
	assert.Equal(t, []Phase{Arming, Disarming, Stopped}, phases)

	targets, _, armCalls, closed := v.snapshot()
	assert.Empty(t, targets)
	assert.Zero(t, armCalls)
	assert.True(t, closed)
	assert.True(t, tm.Landed())
	assert.True(t, tm.StopRequested())
}

func TestController_ZeroReadingKeepsWaiting(t *testing.T) {
	tests := map[string]string{
		"down on the floor": "120,300,750,0,400",
		"front blocked":     "0,300,750,200,400",
		"top blocked":       "120,300,0,200,400",
	}

	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			tm := telemetry.New()
			r, ok := rangefinder.ParseLine(line)
			require.True(t, ok)
			r.Apply(tm)

			v := &fakeVehicle{}
			rec := &recorder{}
			c := NewController(v, tm, WithTiming(fastTiming()), WithSinks(rec))

			ctx, cancel := context.WithCancel(context.Background())
			done := runController(t, c, ctx)

			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, WaitingForSensors, c.Phase())

			cancel()
			waitDone(t, done)

			_, phases := rec.recorded()
			assert.Equal(t, []Phase{Stopped}, phases)

			targets, _, armCalls, _ := v.snapshot()
			assert.Empty(t, targets)
			assert.Zero(t, armCalls)
		})
	}
}

func TestController_StopWhileWaitingForSensors(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Front, 100)
	tm.Set(telemetry.Down, 0) // zero is known but not positive

	v := &fakeVehicle{closeError: errors.New("link already gone")}
	rec := &recorder{}

	c := NewController(v, tm, WithTiming(fastTiming()), WithSinks(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := runController(t, c, ctx)

	time.Sleep(10 * time.Millisecond)
	cancel()
	waitDone(t, done)

	_, phases := rec.recorded()
	assert.Equal(t, []Phase{Stopped}, phases)

	targets, mode, armCalls, closed := v.snapshot()
	assert.Empty(t, targets)
	assert.Empty(t, mode)
	assert.Zero(t, armCalls)
	assert.True(t, closed)
	assert.True(t, tm.Landed())
}

func TestController_StopDuringTakeoffRampLands(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Front, 100)
	tm.Set(telemetry.Top, 900)
	tm.Set(telemetry.Down, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := &fakeVehicle{}
	rec := &recorder{}
	rec.onTick = func(tk Tick) {
		switch tk.Phase {
		case TakeoffRamp:
			cancel()
		case Landing:
			tm.Set(telemetry.Down, 60)
		}
	}

	c := NewController(v, tm, WithTiming(fastTiming()), WithSinks(rec))
	waitDone(t, runController(t, c, ctx))

	ticks, phases := rec.recorded()
	assert.Equal(t, []Phase{Arming, TakeoffRamp, Landing, Disarming, Stopped}, phases)

	var landing int
	for _, tk := range ticks {
		if tk.Phase == Landing {
			landing++
			assert.Equal(t, 0.35, tk.Thrust)
		}
	}
	assert.Equal(t, 1, landing)

	assert.False(t, v.IsArmed())
	assert.True(t, tm.Landed())
	assert.True(t, tm.StopRequested())
}

func TestController_StopDuringArmedCountdownLands(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Front, 100)
	tm.Set(telemetry.Top, 900)
	tm.Set(telemetry.Down, 30)

	timing := fastTiming()
	timing.TakeoffCountdown = time.Hour

	v := &fakeVehicle{}
	rec := &recorder{}
	c := NewController(v, tm, WithTiming(timing), WithSinks(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := runController(t, c, ctx)

	require.Eventually(t, v.IsArmed, time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	_, phases := rec.recorded()
	assert.Equal(t, []Phase{Arming, Landing, Disarming, Stopped}, phases)
	assert.False(t, v.IsArmed())
	assert.True(t, tm.Landed())
}

func TestLand_ThrustSequence(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Down, 300)

	next := []int{250, 180, 90, 75}
	rec := &recorder{}
	rec.onTick = func(Tick) {
		if len(next) > 0 {
			tm.Set(telemetry.Down, next[0])
			next = next[1:]
		}
	}

	v := &fakeVehicle{armed: true}
	c := NewController(v, tm, WithTiming(fastTiming()), WithSinks(rec))

	assert.Equal(t, Disarming, c.land())

	ticks, _ := rec.recorded()
	var thrust []float64
	var altitude []int
	for _, tk := range ticks {
		thrust = append(thrust, tk.Thrust)
		altitude = append(altitude, tk.Altitude)
	}
	assert.Equal(t, []float64{0.45, 0.45, 0.35, 0.35}, thrust)
	assert.Equal(t, []int{300, 250, 180, 90}, altitude)
	assert.Equal(t, 75, tm.Down())
}

func TestLand_NotArmedSkipsToDisarming(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Down, 500)

	v := &fakeVehicle{}
	c := NewController(v, tm, WithTiming(fastTiming()))

	assert.Equal(t, Disarming, c.land())
	assert.Equal(t, Stopped, c.disarm())

	targets, _, _, _ := v.snapshot()
	assert.Empty(t, targets)
}

func TestHold_AbortSkipsNeutral(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Down, 720)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{onTick: func(Tick) { cancel() }}
	timing := fastTiming()
	timing.Hold = time.Hour

	v := &fakeVehicle{armed: true}
	c := NewController(v, tm, WithTiming(timing), WithSinks(rec))

	assert.Equal(t, Landing, c.hold(ctx))
	assert.True(t, tm.StopRequested())

	targets, _, _, _ := v.snapshot()
	require.Len(t, targets, 1)
	assert.Equal(t, 0.5, targets[0].Thrust)
}

func TestCommand_SendsNeutralAfterDuration(t *testing.T) {
	tm := telemetry.New()
	tm.Set(telemetry.Down, 720)

	v := &fakeVehicle{armed: true}
	c := NewController(v, tm, WithTiming(fastTiming()))

	aborted := c.command(context.Background(), Holding, 720, 0.5, 0)
	assert.False(t, aborted)

	targets, _, _, _ := v.snapshot()
	require.Len(t, targets, 2)
	assert.Equal(t, attitude.NewTarget(0, 0, 90, 0, 0.5), targets[0])
	assert.Equal(t, attitude.Neutral(90, 0.5), targets[1])
	assert.False(t, targets[1].UseYawRate)
}

func TestController_AlreadyRunning(t *testing.T) {
	tm := telemetry.New()
	c := NewController(&fakeVehicle{}, tm, WithTiming(fastTiming()))

	ctx, cancel := context.WithCancel(context.Background())
	done := runController(t, c, ctx)

	require.Eventually(t, c.IsRunning, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Run(ctx), ErrAlreadyRunning)

	cancel()
	waitDone(t, done)
}
