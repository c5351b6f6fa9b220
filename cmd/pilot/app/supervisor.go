package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

const landedPollInterval = time.Second

// Worker is a long running unit stopped by cancelling its context
type Worker interface {
	Run(ctx context.Context) error
}

// WithSupervisorLogger sets the logger for the supervisor
func WithSupervisorLogger(logger *slog.Logger) func(s *Supervisor) {
	return func(s *Supervisor) {
		s.logger = logger.With(slog.String("component", "supervisor"))
	}
}

// WithPollInterval sets how often the landed flag is checked
func WithPollInterval(d time.Duration) func(s *Supervisor) {
	return func(s *Supervisor) {
		s.pollInterval = d
	}
}

// Supervisor runs the sensor feed and the flight controller. Each worker gets
// its own stop signal, so the controller is always stopped, and has landed,
// before the feed it depends on for altitude is torn down.
type Supervisor struct {
	telemetry  *telemetry.Telemetry
	feed       Worker
	controller Worker

	pollInterval time.Duration
	logger       *slog.Logger
}

func NewSupervisor(t *telemetry.Telemetry, feed, controller Worker, options ...func(s *Supervisor)) *Supervisor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Supervisor{
		telemetry:    t,
		feed:         feed,
		controller:   controller,
		pollInterval: landedPollInterval,
		logger:       logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Run blocks until the vehicle has landed, or ctx is cancelled and the
// controller has finished its shutdown path.
func (s *Supervisor) Run(ctx context.Context) error {
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()

	controllerCtx, stopController := context.WithCancel(context.Background())
	defer stopController()

	feedDone := start(feedCtx, s.feed)
	controllerDone := start(controllerCtx, s.controller)

	s.wait(ctx, controllerDone)

	s.logger.Info("stopping flight controller...")
	stopController()
	controllerErr := <-controllerDone

	s.logger.Info("stopping sensor feed...")
	stopFeed()
	feedErr := <-feedDone

	var errs []error
	if controllerErr != nil {
		errs = append(errs, fmt.Errorf("flight controller: %w", controllerErr))
	}
	if feedErr != nil {
		errs = append(errs, fmt.Errorf("sensor feed: %w", feedErr))
	}

	return errors.Join(errs...)
}

// wait returns once landed, interrupted or the controller exited on its own.
// A result received from controllerDone is put back for the caller.
func (s *Supervisor) wait(ctx context.Context, controllerDone chan error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Warn("interrupted")
			return

		case err := <-controllerDone:
			controllerDone <- err
			s.logger.Info("flight controller exited")
			return

		case <-ticker.C:
			if s.telemetry.Landed() {
				s.logger.Info("landed")
				return
			}
		}
	}
}

func start(ctx context.Context, w Worker) chan error {
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()
	return done
}
