package mavlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/roman-kulish/indoor-pilot/internal/attitude"
)

const (
	// VersionRequestInterval is how often AUTOPILOT_VERSION is requested while waiting for the autopilot
	VersionRequestInterval = time.Second

	autopilotVersionMessageID = 148
)

var (
	// ErrNotReady is returned by WaitReady when the ready timeout elapses
	ErrNotReady = errors.New("autopilot not ready")

	// ErrLinkClosed is returned for any operation on a closed link
	ErrLinkClosed = errors.New("vehicle link closed")
)

// Config of the MAVLink connection
type Config struct {
	Endpoint        string        // One of the Endpoint* kinds
	Address         string        // host:port, or the device path for serial
	Baud            int           // Serial only
	SystemID        byte          // Our own system ID
	TargetSystem    byte          // Autopilot system ID
	TargetComponent byte          // Autopilot component ID
	ReadyTimeout    time.Duration // Bound on WaitReady, zero waits until ctx is done
}

// DefaultConfig talks to the flight controller broadcasting on the airframe network
func DefaultConfig() Config {
	return Config{
		Endpoint:        EndpointUDPBroadcast,
		Address:         "192.168.2.1:14550",
		Baud:            115200,
		SystemID:        255,
		TargetSystem:    1,
		TargetComponent: 1,
	}
}

// messageWriter is the part of gomavlib.Node used to send messages
type messageWriter interface {
	WriteMessageAll(m message.Message) error
}

// WithLogger sets the logger for the link
func WithLogger(logger *slog.Logger) func(l *Link) {
	return func(l *Link) {
		l.logger = logger.With(slog.String("component", "mavlink"))
	}
}

// Link is a vehicle link to an ArduCopter autopilot. State reported by the
// autopilot is cached from incoming messages, so state queries never block.
type Link struct {
	conf   Config
	node   *gomavlib.Node
	writer messageWriter
	start  time.Time

	armed          atomic.Bool
	heartbeat      atomic.Bool
	version        atomic.Bool
	yaw            atomic.Uint64 // math.Float64bits, degrees
	batteryVoltage atomic.Uint64 // math.Float64bits, volts
	hasBattery     atomic.Bool
	customMode     atomic.Uint32

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger *slog.Logger
}

// Open creates the MAVLink node and starts processing incoming messages
func Open(conf Config, options ...func(l *Link)) (*Link, error) {
	ep, err := endpointConf(conf)
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: conf.SystemID,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating mavlink node: %w", err)
	}

	l := newLink(conf, node, options...)
	l.node = node

	l.wg.Add(1)
	go l.readEvents(node.Events())

	return l, nil
}

func newLink(conf Config, w messageWriter, options ...func(l *Link)) *Link {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	l := Link{
		conf:   conf,
		writer: w,
		start:  time.Now(),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
		logger: logger,
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

func (l *Link) readEvents(events chan gomavlib.Event) {
	defer l.wg.Done()

	for e := range events {
		switch e := e.(type) {
		case *gomavlib.EventFrame:
			l.handleMessage(e.SystemID(), e.ComponentID(), e.Message())

		case *gomavlib.EventChannelOpen:
			l.logger.Info("channel open", slog.String("channel", e.Channel.String()))

		case *gomavlib.EventChannelClose:
			l.logger.Warn("channel closed", slog.String("channel", e.Channel.String()))

		case *gomavlib.EventParseError:
			l.logger.Debug(fmt.Sprintf("error parsing frame: %s", e.Error.Error()))
		}
	}
}

func (l *Link) handleMessage(systemID, componentID byte, msg message.Message) {
	if systemID != l.conf.TargetSystem {
		return
	}

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		if m.Type == common.MAV_TYPE_GCS || componentID != l.conf.TargetComponent {
			return
		}

		armed := m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		if l.armed.Swap(armed) != armed {
			l.logger.Info(fmt.Sprintf("armed=%t", armed))
		}
		if prev := l.customMode.Swap(m.CustomMode); prev != m.CustomMode || !l.heartbeat.Load() {
			l.logger.Info("mode " + ModeName(m.CustomMode))
		}

		l.heartbeat.Store(true)
		l.checkReady()

	case *common.MessageAutopilotVersion:
		if !l.version.Swap(true) {
			l.logger.Info(fmt.Sprintf("autopilot version %#x", m.FlightSwVersion))
		}
		l.checkReady()

	case *common.MessageAttitude:
		l.yaw.Store(math.Float64bits(attitude.Degrees(float64(m.Yaw))))

	case *common.MessageSysStatus:
		if m.VoltageBattery == math.MaxUint16 {
			return // not reported by the autopilot
		}
		l.batteryVoltage.Store(math.Float64bits(float64(m.VoltageBattery) / 1000))
		l.hasBattery.Store(true)

	case *common.MessageCommandAck:
		if m.Result != common.MAV_RESULT_ACCEPTED && m.Result != common.MAV_RESULT_IN_PROGRESS {
			l.logger.Warn(fmt.Sprintf("command %d rejected with result %d", m.Command, m.Result))
		}

	case *common.MessageStatustext:
		l.logger.Info("autopilot: " + m.Text)
	}
}

// checkReady signals readiness once both a heartbeat and the autopilot version were received
func (l *Link) checkReady() {
	if l.heartbeat.Load() && l.version.Load() {
		l.readyOnce.Do(func() { close(l.ready) })
	}
}

// WaitReady blocks until the autopilot has sent a heartbeat and its version.
// AUTOPILOT_VERSION is requested periodically while waiting.
func (l *Link) WaitReady(ctx context.Context) error {
	if l.conf.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.conf.ReadyTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(VersionRequestInterval)
	defer ticker.Stop()

	for {
		if !l.version.Load() {
			if err := l.requestVersion(); err != nil {
				l.logger.Debug(err.Error())
			}
		}

		select {
		case <-l.ready:
			return nil
		case <-l.closed:
			return ErrLinkClosed
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrNotReady, l.conf.ReadyTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Link) requestVersion() error {
	return l.command(common.MAV_CMD_REQUEST_MESSAGE, autopilotVersionMessageID, 0)
}

// SetMode requests an ArduCopter flight mode by name
func (l *Link) SetMode(mode string) error {
	custom, err := CustomMode(mode)
	if err != nil {
		return err
	}

	return l.command(common.MAV_CMD_DO_SET_MODE, float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(custom))
}

// SetArmed requests arming or disarming. The result is observed through IsArmed.
func (l *Link) SetArmed(armed bool) error {
	var p float32
	if armed {
		p = 1
	}

	return l.command(common.MAV_CMD_COMPONENT_ARM_DISARM, p, 0)
}

func (l *Link) IsArmed() bool {
	return l.armed.Load()
}

// SendAttitudeTarget sends SET_ATTITUDE_TARGET. When the target does not use
// the yaw rate, the autopilot follows the yaw encoded in the quaternion.
func (l *Link) SendAttitudeTarget(t attitude.Target) error {
	var mask common.ATTITUDE_TARGET_TYPEMASK
	if !t.UseYawRate {
		mask = common.ATTITUDE_TARGET_TYPEMASK_BODY_YAW_RATE_IGNORE
	}

	return l.write(&common.MessageSetAttitudeTarget{
		TimeBootMs:      uint32(time.Since(l.start).Milliseconds()),
		TargetSystem:    l.conf.TargetSystem,
		TargetComponent: l.conf.TargetComponent,
		TypeMask:        mask,
		Q:               t.Q.Float32(),
		BodyRollRate:    float32(t.BodyRollRate),
		BodyPitchRate:   float32(t.BodyPitchRate),
		BodyYawRate:     float32(t.BodyYawRate),
		Thrust:          float32(t.Thrust),
	})
}

// CurrentYaw returns the last reported heading in degrees
func (l *Link) CurrentYaw() float64 {
	return math.Float64frombits(l.yaw.Load())
}

// BatteryVoltage returns the last reported pack voltage
func (l *Link) BatteryVoltage() (float64, bool) {
	if !l.hasBattery.Load() {
		return 0, false
	}
	return math.Float64frombits(l.batteryVoltage.Load()), true
}

// Close stops the node. Closing twice returns ErrLinkClosed.
func (l *Link) Close() error {
	err := ErrLinkClosed

	l.closeOnce.Do(func() {
		close(l.closed)
		if l.node != nil {
			l.node.Close()
		}
		l.wg.Wait()
		err = nil
	})

	return err
}

func (l *Link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *Link) command(cmd common.MAV_CMD, param1, param2 float32) error {
	return l.write(&common.MessageCommandLong{
		TargetSystem:    l.conf.TargetSystem,
		TargetComponent: l.conf.TargetComponent,
		Command:         cmd,
		Param1:          param1,
		Param2:          param2,
	})
}

func (l *Link) write(m message.Message) error {
	if l.isClosed() {
		return ErrLinkClosed
	}

	if err := l.writer.WriteMessageAll(m); err != nil {
		return fmt.Errorf("error writing %T: %w", m, err)
	}

	return nil
}
