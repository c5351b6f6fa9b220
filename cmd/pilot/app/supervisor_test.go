package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// blockingWorker runs until its context is cancelled
type blockingWorker struct {
	name    string
	events  *events
	started chan struct{}
	err     error
}

func newBlockingWorker(name string, e *events) *blockingWorker {
	return &blockingWorker{name: name, events: e, started: make(chan struct{})}
}

func (w *blockingWorker) Run(ctx context.Context) error {
	close(w.started)
	<-ctx.Done()
	w.events.add(w.name + " stopped")
	return w.err
}

type funcWorker func(ctx context.Context) error

func (f funcWorker) Run(ctx context.Context) error { return f(ctx) }

func TestSupervisor_StopsAfterLanding(t *testing.T) {
	tel := telemetry.New()
	e := &events{}

	feed := newBlockingWorker("feed", e)
	controller := newBlockingWorker("controller", e)

	s := NewSupervisor(tel, feed, controller, WithPollInterval(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	<-feed.started
	<-controller.started
	tel.MarkLanded()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after landing")
	}

	assert.Equal(t, []string{"controller stopped", "feed stopped"}, e.list())
}

func TestSupervisor_InterruptStopsControllerFirst(t *testing.T) {
	tel := telemetry.New()
	e := &events{}

	feed := newBlockingWorker("feed", e)
	controller := newBlockingWorker("controller", e)

	s := NewSupervisor(tel, feed, controller, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-feed.started
	<-controller.started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after interrupt")
	}

	assert.Equal(t, []string{"controller stopped", "feed stopped"}, e.list())
}

func TestSupervisor_FeedRunsUntilControllerFinishes(t *testing.T) {
	tel := telemetry.New()
	e := &events{}
	feed := newBlockingWorker("feed", e)

	// the controller keeps flying its landing after cancellation
	controller := funcWorker(func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		e.add("controller landed")
		return nil
	})

	s := NewSupervisor(tel, feed, controller, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []string{"controller landed", "feed stopped"}, e.list())
}

func TestSupervisor_ControllerExitsOnItsOwn(t *testing.T) {
	tel := telemetry.New()
	e := &events{}
	feed := newBlockingWorker("feed", e)
	controllerErr := errors.New("link lost")

	controller := funcWorker(func(context.Context) error {
		e.add("controller exited")
		return controllerErr
	})

	s := NewSupervisor(tel, feed, controller, WithPollInterval(time.Hour))

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, controllerErr)
	assert.Equal(t, []string{"controller exited", "feed stopped"}, e.list())
}

func TestSupervisor_JoinsErrors(t *testing.T) {
	tel := telemetry.New()
	tel.MarkLanded()
	e := &events{}

	feed := newBlockingWorker("feed", e)
	feed.err = errors.New("port closed")
	controller := newBlockingWorker("controller", e)
	controller.err = errors.New("vehicle gone")

	s := NewSupervisor(tel, feed, controller, WithPollInterval(time.Millisecond))

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, feed.err)
	assert.ErrorIs(t, err, controller.err)
}
