package rangefinder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

const (
	// ReconnectDelay is the pause between two connection attempts
	ReconnectDelay = 500 * time.Millisecond
)

// ErrAlreadyRunning is returned when Run is called on a feed that is still running
var ErrAlreadyRunning = errors.New("feed is already running")

// WithLogger sets the logger for the feed
func WithLogger(logger *slog.Logger) func(f *Feed) {
	return func(f *Feed) {
		f.logger = logger.With(
			slog.String("component", "rangefinder"),
			slog.String("endpoint", f.dialer.String()),
		)
	}
}

// WithReconnectDelay overrides ReconnectDelay
func WithReconnectDelay(d time.Duration) func(f *Feed) {
	return func(f *Feed) {
		f.reconnectDelay = d
	}
}

// Stats are counters collected over the lifetime of a feed
type Stats struct {
	Lines      uint64 // Lines applied to telemetry
	Dropped    uint64 // Lines with the wrong number of tokens
	Reconnects uint64
}

// Feed reads distance lines from the sensor board and publishes them into the
// shared telemetry. It is the only writer of the distance channels.
type Feed struct {
	dialer    Dialer
	telemetry *telemetry.Telemetry

	isRunning atomic.Bool
	conn      io.ReadCloser

	lines      atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64

	reconnectDelay time.Duration
	logger         *slog.Logger
}

// NewFeed creates a new Feed instance with a discard logger
func NewFeed(d Dialer, t *telemetry.Telemetry, options ...func(f *Feed)) *Feed {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	f := Feed{
		dialer:         d,
		telemetry:      t,
		reconnectDelay: ReconnectDelay,
		logger:         logger,
	}

	for _, option := range options {
		option(&f)
	}

	return &f
}

// Run blocks until ctx is cancelled. Cancellation is observed between reads;
// a read that is already blocked is not interrupted.
func (f *Feed) Run(ctx context.Context) error {
	if !f.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer f.isRunning.Store(false)

	f.logger.Info("starting sensor feed...")

	defer func() {
		f.telemetry.RequestStop()
		f.disconnect()
		f.logger.Info("sensor feed stopped")
	}()

	if !f.connect(ctx) {
		return nil
	}

	reader := bufio.NewReader(f.conn)

	for ctx.Err() == nil {
		line, err := reader.ReadString('\n')
		if line != "" {
			f.handleLine(line)
		}

		if err == nil {
			continue
		}

		f.logger.Warn(fmt.Sprintf("error reading sensor line: %s", err.Error()))
		f.disconnect()

		if !f.connect(ctx) {
			return nil
		}

		f.reconnects.Add(1)
		reader.Reset(f.conn)
	}

	return nil
}

// IsRunning returns true while Run is executing
func (f *Feed) IsRunning() bool {
	return f.isRunning.Load()
}

// Stats returns the feed counters
func (f *Feed) Stats() Stats {
	return Stats{
		Lines:      f.lines.Load(),
		Dropped:    f.dropped.Load(),
		Reconnects: f.reconnects.Load(),
	}
}

func (f *Feed) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	r, ok := ParseLine(line)
	if !ok {
		f.dropped.Add(1)
		f.logger.Debug("dropping malformed sensor line", slog.String("line", line))
		return
	}

	r.Apply(f.telemetry)
	f.lines.Add(1)
}

// connect dials until it succeeds or ctx is cancelled, returns false on cancel
func (f *Feed) connect(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		conn, err := f.dialer.Dial(ctx)
		if err == nil {
			f.conn = conn
			f.logger.Info("connected to sensor board")
			return true
		}

		f.logger.Debug(err.Error())

		select {
		case <-ctx.Done():
			return false
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Feed) disconnect() {
	if f.conn == nil {
		return
	}

	if err := f.conn.Close(); err != nil {
		f.logger.Debug(fmt.Sprintf("error closing sensor connection: %s", err.Error()))
	}

	f.conn = nil
}
