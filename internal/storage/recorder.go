package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

const (
	maxBatchSize  = 100
	flushInterval = time.Second
	queueSize     = 1024
)

// ErrRecorderClosed is returned when Close is called twice
var ErrRecorderClosed = errors.New("recorder closed")

// WithMaxBatchSize sets the maximum number of ticks stored within a single
// database transaction
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		if size > 0 {
			r.maxBatchSize = size
		}
	}
}

// WithFlushInterval sets how often buffered ticks are written
func WithFlushInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithTelemetry enriches every tick with a snapshot of the shared telemetry
func WithTelemetry(provider telemetry.Provider) func(*Recorder) {
	return func(r *Recorder) {
		r.telemetry = provider
	}
}

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// Recorder is a flight.Sink writing ticks to a Store in the background.
// Record never blocks the controller: when the queue is full the tick is dropped.
type Recorder struct {
	store     Store
	flightID  int64
	telemetry telemetry.Provider

	queue   chan TickRecord
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	stored  atomic.Int64
	peak    atomic.Int64

	maxBatchSize  int
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewRecorder starts a recorder for an existing flight
func NewRecorder(store Store, flightID int64, options ...func(*Recorder)) *Recorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	r := Recorder{
		store:         store,
		flightID:      flightID,
		queue:         make(chan TickRecord, queueSize),
		maxBatchSize:  maxBatchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}

	for _, option := range options {
		option(&r)
	}

	r.peak.Store(telemetry.Unknown)

	r.wg.Add(1)
	go r.run()

	return &r
}

// Record implements flight.Sink
func (r *Recorder) Record(t flight.Tick) {
	var snapshot *telemetry.Snapshot
	if r.telemetry != nil {
		s := r.telemetry.Snapshot()
		snapshot = &s
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.queue <- NewTickRecord(t, snapshot):
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("tick queue is full, dropping ticks")
		}
	}
}

// Dropped returns the number of ticks that did not fit in the queue
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close flushes the queued ticks and writes the flight summary
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()

	err := r.store.FinishFlight(context.Background(), r.flightID, FlightSummary{
		EndTime:      time.Now(),
		Ticks:        r.stored.Load(),
		PeakAltitude: int(r.peak.Load()),
	})
	if err != nil {
		return fmt.Errorf("finishing flight %d: %w", r.flightID, err)
	}

	return nil
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	var buffer []TickRecord

	for {
		select {
		case t, ok := <-r.queue:
			if !ok {
				r.flush(buffer)
				return
			}

			buffer = append(buffer, t)
			if len(buffer) >= r.maxBatchSize {
				r.flush(buffer)
				buffer = buffer[:0]
			}

		case <-ticker.C:
			r.flush(buffer)
			buffer = buffer[:0]
		}
	}
}

func (r *Recorder) flush(buffer []TickRecord) {
	for chunk := range slices.Chunk(buffer, r.maxBatchSize) {
		if err := r.store.StoreTicks(context.Background(), r.flightID, chunk); err != nil {
			r.logger.Error(fmt.Sprintf("storing ticks: %s", err.Error()))
			continue
		}

		r.stored.Add(int64(len(chunk)))
		for _, t := range chunk {
			if int64(t.Altitude) > r.peak.Load() {
				r.peak.Store(int64(t.Altitude))
			}
		}
	}
}
