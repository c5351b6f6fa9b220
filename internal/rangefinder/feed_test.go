package rangefinder

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

// sensorBoard accepts connections and hands them to the test
type sensorBoard struct {
	ln    net.Listener
	conns chan net.Conn
}

func newSensorBoard(t *testing.T) *sensorBoard {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := sensorBoard{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			b.conns <- c
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return &b
}

func (b *sensorBoard) accept(t *testing.T) net.Conn {
	t.Helper()

	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not connect")
		return nil
	}
}

func startFeed(t *testing.T, f *Feed) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestFeed_PublishesReadings(t *testing.T) {
	board := newSensorBoard(t)
	tm := telemetry.New()
	f := NewFeed(TCPDialer{Address: board.ln.Addr().String()}, tm, WithReconnectDelay(10*time.Millisecond))

	cancel, done := startFeed(t, f)

	conn := board.accept(t)
	_, err := conn.Write([]byte("120,300,750,712,400\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tm.Right() == 400 }, time.Second, 5*time.Millisecond)

	s := tm.Snapshot()
	assert.Equal(t, 120, s.Front)
	assert.Equal(t, 300, s.Left)
	assert.Equal(t, 750, s.Top)
	assert.Equal(t, 712, s.Down)

	cancel()
	_ = conn.Close() // unblocks the in-flight read
	waitStopped(t, done)

	assert.True(t, tm.StopRequested())
	assert.False(t, f.IsRunning())
}

func TestFeed_DropsMalformedLines(t *testing.T) {
	board := newSensorBoard(t)
	tm := telemetry.New()
	f := NewFeed(TCPDialer{Address: board.ln.Addr().String()}, tm)

	cancel, done := startFeed(t, f)

	conn := board.accept(t)
	_, err := conn.Write([]byte("1,2,3\n\n10,x,30,40,50\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.Stats().Lines == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(1), f.Stats().Dropped)
	assert.Equal(t, 10, tm.Front())
	assert.Equal(t, telemetry.Unknown, tm.Left())

	cancel()
	_ = conn.Close()
	waitStopped(t, done)
}

func TestFeed_ReconnectsAfterDisconnect(t *testing.T) {
	board := newSensorBoard(t)
	tm := telemetry.New()
	f := NewFeed(TCPDialer{Address: board.ln.Addr().String()}, tm, WithReconnectDelay(10*time.Millisecond))

	cancel, done := startFeed(t, f)

	first := board.accept(t)
	_, err := first.Write([]byte("100,100,100,100,100\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tm.Down() == 100 }, time.Second, 5*time.Millisecond)
	require.NoError(t, first.Close())

	second := board.accept(t)
	_, err = second.Write([]byte("200,200,200,200,200\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tm.Down() == 200 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(1), f.Stats().Reconnects)

	cancel()
	_ = second.Close()
	waitStopped(t, done)
}

type failingDialer struct {
	attempts atomic.Int32
}

func (d *failingDialer) Dial(context.Context) (io.ReadCloser, error) {
	d.attempts.Add(1)
	return nil, errors.New("connection refused")
}

func (d *failingDialer) String() string { return "failing" }

func TestFeed_StopWhileReconnecting(t *testing.T) {
	d := &failingDialer{}
	f := NewFeed(d, telemetry.New(), WithReconnectDelay(5*time.Millisecond))

	cancel, done := startFeed(t, f)

	require.Eventually(t, func() bool { return d.attempts.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	waitStopped(t, done)
}

func TestFeed_AlreadyRunning(t *testing.T) {
	d := &failingDialer{}
	f := NewFeed(d, telemetry.New(), WithReconnectDelay(5*time.Millisecond))

	cancel, done := startFeed(t, f)
	require.Eventually(t, f.IsRunning, time.Second, time.Millisecond)

	assert.ErrorIs(t, f.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	waitStopped(t, done)
}
