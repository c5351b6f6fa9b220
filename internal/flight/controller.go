package flight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/indoor-pilot/internal/attitude"
	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

// ErrAlreadyRunning is returned when Run is called twice
var ErrAlreadyRunning = errors.New("controller is already running")

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "flight"))
	}
}

// WithLimits overrides DefaultLimits
func WithLimits(l Limits) func(c *Controller) {
	return func(c *Controller) {
		c.limits = l
	}
}

// WithTiming overrides DefaultTiming
func WithTiming(t Timing) func(c *Controller) {
	return func(c *Controller) {
		c.timing = t
	}
}

// WithSinks registers tick sinks
func WithSinks(sinks ...Sink) func(c *Controller) {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sinks...)
	}
}

// WithMode sets the flight mode requested before arming
func WithMode(mode string) func(c *Controller) {
	return func(c *Controller) {
		c.mode = mode
	}
}

// Controller flies one takeoff, hold and landing sequence. It reads distances
// from the shared telemetry and is the only owner of the vehicle link.
type Controller struct {
	vehicle   Vehicle
	telemetry *telemetry.Telemetry

	isRunning     atomic.Bool
	phase         atomic.Int32
	ticks         atomic.Uint64
	peakAltitude  atomic.Int64
	batteryWarned bool

	sinks  []Sink
	mode   string
	limits Limits
	timing Timing
	logger *slog.Logger
}

// NewController creates a new Controller instance with a discard logger
func NewController(v Vehicle, t *telemetry.Telemetry, options ...func(c *Controller)) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Controller{
		vehicle:   v,
		telemetry: t,
		mode:      ModeGuidedNoGPS,
		limits:    DefaultLimits(),
		timing:    DefaultTiming(),
		logger:    logger,
	}

	for _, option := range options {
		option(&c)
	}

	c.peakAltitude.Store(telemetry.Unknown)
	return &c
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// IsRunning returns true while Run is executing
func (c *Controller) IsRunning() bool {
	return c.isRunning.Load()
}

// Ticks returns the number of attitude commands sent so far
func (c *Controller) Ticks() uint64 {
	return c.ticks.Load()
}

// PeakAltitude returns the highest altitude seen while commanding the vehicle
func (c *Controller) PeakAltitude() int {
	return int(c.peakAltitude.Load())
}

// Run drives the phase machine until Stopped. Cancelling ctx requests a stop:
// before takeoff the vehicle is disarmed, once airborne it is always landed
// first. Landing and disarming are never interrupted.
func (c *Controller) Run(ctx context.Context) error {
	if !c.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.isRunning.Store(false)

	c.logger.Info("starting flight controller...")

	phase := WaitingForSensors
	for phase != Stopped {
		phase = c.step(ctx, phase)
		c.setPhase(phase)
	}

	c.shutdown()
	c.logger.Info("flight controller stopped")

	return nil
}

func (c *Controller) step(ctx context.Context, phase Phase) Phase {
	switch phase {
	case WaitingForSensors:
		return c.waitForSensors(ctx)
	case Arming:
		return c.arm(ctx)
	case TakeoffRamp:
		return c.takeoff(ctx)
	case Holding:
		return c.hold(ctx)
	case Landing:
		return c.land()
	case Disarming:
		return c.disarm()
	default:
		return Stopped
	}
}

func (c *Controller) setPhase(to Phase) {
	from := Phase(c.phase.Swap(int32(to)))
	if from == to {
		return
	}

	c.logger.Info(fmt.Sprintf("phase %s -> %s", from, to))

	for _, s := range c.sinks {
		if o, ok := s.(PhaseObserver); ok {
			o.PhaseChanged(from, to)
		}
	}
}

// stopRequested records the stop in the shared telemetry once ctx is done
func (c *Controller) stopRequested(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	c.telemetry.RequestStop()
	return true
}

func (c *Controller) waitForSensors(ctx context.Context) Phase {
	for {
		if c.stopRequested(ctx) {
			return Stopped
		}

		missing := c.missingSensors()
		if len(missing) == 0 {
			c.logger.Info("sensors ready")
			return Arming
		}

		c.logger.Debug("waiting for sensors", slog.Any("missing", missing))

		if !sleep(ctx, c.timing.Poll) {
			c.telemetry.RequestStop()
			return Stopped
		}
	}
}

func (c *Controller) missingSensors() []string {
	var missing []string
	for _, ch := range []telemetry.Channel{telemetry.Front, telemetry.Top, telemetry.Down} {
		if v, ok := c.telemetry.Get(ch); !ok || v <= 0 {
			missing = append(missing, ch.String())
		}
	}
	return missing
}

func (c *Controller) arm(ctx context.Context) Phase {
	c.logger.Info("waiting for autopilot...")

	if err := c.vehicle.WaitReady(ctx); err != nil {
		if !c.stopRequested(ctx) {
			c.logger.Error(fmt.Sprintf("autopilot not ready: %s", err.Error()))
		}
		return c.forceStop()
	}

	c.observeBattery()

	c.logger.Info("arming vehicle...")
	if !c.countdown(ctx, c.timing.ArmCountdown) {
		return c.forceStop()
	}

	modeSet := c.setMode()
	c.setArmed(true)

	for !c.vehicle.IsArmed() {
		if c.stopRequested(ctx) {
			return c.forceStop()
		}

		c.logger.Debug("waiting for arming...")
		if !modeSet {
			modeSet = c.setMode()
		}
		c.setArmed(true)

		if !sleep(ctx, c.timing.Poll) {
			c.telemetry.RequestStop()
			return c.forceStop()
		}
	}

	c.logger.Info("vehicle armed, preparing takeoff")
	if !c.countdown(ctx, c.timing.TakeoffCountdown) {
		return c.forceStop()
	}

	return TakeoffRamp
}

// forceStop picks the safe path out of a flight that has not taken off yet
func (c *Controller) forceStop() Phase {
	if c.vehicle.IsArmed() {
		return Landing
	}
	return Disarming
}

func (c *Controller) setMode() bool {
	if err := c.vehicle.SetMode(c.mode); err != nil {
		c.logger.Warn(fmt.Sprintf("error setting mode %s: %s", c.mode, err.Error()))
		return false
	}
	return true
}

func (c *Controller) setArmed(armed bool) {
	if err := c.vehicle.SetArmed(armed); err != nil {
		c.logger.Warn(fmt.Sprintf("error setting armed=%t: %s", armed, err.Error()))
	}
}

func (c *Controller) takeoff(ctx context.Context) Phase {
	c.logger.Info(fmt.Sprintf("takeoff to %dmm", c.limits.TargetAltitude))

	ramp := NewRamp(c.limits)
	for {
		if c.stopRequested(ctx) {
			return Landing
		}

		down := c.telemetry.Down()
		if down >= c.limits.TakeoffTrigger() {
			c.logger.Info(fmt.Sprintf("reached target altitude at %dmm", down))
			return Holding
		}

		wasFrozen := ramp.Frozen
		ramp = TakeoffStep(ramp, down, c.limits)
		if ramp.Frozen && !wasFrozen {
			c.logger.Info(fmt.Sprintf("climb stalled, thrust frozen at %.3f", ramp.Thrust))
		}

		c.command(ctx, TakeoffRamp, down, ramp.Thrust, 0)

		if !sleep(ctx, c.timing.Tick) {
			c.telemetry.RequestStop()
			return Landing
		}
	}
}

func (c *Controller) hold(ctx context.Context) Phase {
	c.logger.Info("holding position")

	if aborted := c.command(ctx, Holding, c.telemetry.Down(), c.limits.HoldThrust, c.timing.Hold); aborted {
		c.telemetry.RequestStop()
	}

	return Landing
}

func (c *Controller) land() Phase {
	if !c.vehicle.IsArmed() {
		return Disarming
	}

	c.logger.Info("starting landing...")

	for {
		down := c.telemetry.Down()
		if Landed(down, c.limits) {
			c.logger.Info(fmt.Sprintf("reached landing altitude at %dmm", down))
			return Disarming
		}

		c.command(context.Background(), Landing, down, LandingThrust(down, c.limits), 0)
		time.Sleep(c.timing.Tick)
	}
}

func (c *Controller) disarm() Phase {
	for c.vehicle.IsArmed() {
		c.logger.Info("disarming vehicle...")

		c.command(context.Background(), Disarming, c.telemetry.Down(), c.limits.DisarmThrust, 0)
		c.setArmed(false)

		time.Sleep(c.timing.Poll)
	}

	return Stopped
}

func (c *Controller) shutdown() {
	if err := c.vehicle.Close(); err != nil {
		c.logger.Debug(fmt.Sprintf("error closing vehicle link: %s", err.Error()))
	}

	c.telemetry.MarkLanded()
}

// command sends a level attitude target for d, re-sending it every tick, and
// then a neutral target with the same thrust. It returns true when ctx was
// cancelled before d elapsed, in which case the neutral target is not sent.
func (c *Controller) command(ctx context.Context, phase Phase, down int, thrust float64, d time.Duration) bool {
	yaw := c.vehicle.CurrentYaw()
	target := attitude.NewTarget(0, 0, yaw, 0, thrust)

	c.send(target)
	c.record(phase, down, thrust, yaw)

	deadline := time.Now().Add(d)
	for time.Until(deadline) > 0 {
		if !sleep(ctx, c.timing.Tick) {
			return true
		}

		c.send(target)
		c.record(phase, c.telemetry.Down(), thrust, yaw)
	}

	c.send(attitude.Neutral(yaw, thrust))
	return false
}

func (c *Controller) send(t attitude.Target) {
	if err := c.vehicle.SendAttitudeTarget(t); err != nil {
		c.logger.Warn(fmt.Sprintf("error sending attitude target: %s", err.Error()))
	}
}

func (c *Controller) record(phase Phase, down int, thrust, yaw float64) {
	c.ticks.Add(1)
	if int64(down) > c.peakAltitude.Load() {
		c.peakAltitude.Store(int64(down))
	}

	c.observeBattery()

	c.logger.Debug(fmt.Sprintf("altitude: %dmm, thrust: %.3f", down, thrust), slog.String("phase", phase.String()))

	t := Tick{
		Time:     time.Now(),
		Phase:    phase,
		Altitude: down,
		Thrust:   thrust,
		Yaw:      yaw,
	}
	for _, s := range c.sinks {
		s.Record(t)
	}
}

// observeBattery copies the pack voltage into the shared telemetry
func (c *Controller) observeBattery() {
	v, ok := c.vehicle.BatteryVoltage()
	if !ok {
		return
	}

	c.telemetry.SetBatteryVoltage(v)

	if v < c.limits.CriticalVoltage && !c.batteryWarned {
		c.batteryWarned = true
		c.logger.Warn(fmt.Sprintf("battery at %.2fV is below %.2fV", v, c.limits.CriticalVoltage))
	}
}

// countdown waits d in one second steps, returns false if ctx is done first
func (c *Controller) countdown(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		c.logger.Info(fmt.Sprintf("%d...", int((d+time.Second-1)/time.Second)))

		step := min(d, time.Second)
		if !sleep(ctx, step) {
			c.telemetry.RequestStop()
			return false
		}
		d -= step
	}

	return !c.stopRequested(ctx)
}

// sleep waits d, returns false if ctx is done first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
