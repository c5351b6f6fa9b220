package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
	"github.com/roman-kulish/indoor-pilot/internal/monitor"
	"github.com/roman-kulish/indoor-pilot/internal/rangefinder"
	"github.com/roman-kulish/indoor-pilot/internal/storage"
	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
	"github.com/roman-kulish/indoor-pilot/internal/vehicle/mavlink"
)

// Run flies one takeoff, hold and landing sequence and returns after landing
// or after the interrupt triggered by ctx was handled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	tel := telemetry.New()

	feed := rangefinder.NewFeed(config.Dialer(), tel,
		rangefinder.WithLogger(logger),
		rangefinder.WithReconnectDelay(time.Duration(config.Sensor.ReconnectDelay)),
	)

	link, err := mavlink.Open(config.Link(), mavlink.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open vehicle link: %w", err)
	}

	sinks, closeSinks, err := createSinks(ctx, config, tel, logger)
	if err != nil {
		_ = link.Close()
		return err
	}

	controller := flight.NewController(link, tel,
		flight.WithLogger(logger),
		flight.WithLimits(config.Limits()),
		flight.WithTiming(config.Timing()),
		flight.WithMode(config.Vehicle.Mode),
		flight.WithSinks(sinks...),
	)

	supervisor := NewSupervisor(tel, feed, controller, WithSupervisorLogger(logger))

	started := time.Now()
	err = supervisor.Run(ctx)

	stats := feed.Stats()
	logger.Info(fmt.Sprintf("flight finished after %s: %s commands, peak altitude %s mm, %s sensor lines, %s dropped, %s reconnects",
		humanize.RelTime(started, time.Now(), "", ""),
		humanize.Comma(int64(controller.Ticks())),
		humanize.Comma(int64(controller.PeakAltitude())),
		humanize.Comma(int64(stats.Lines)),
		humanize.Comma(int64(stats.Dropped)),
		humanize.Comma(int64(stats.Reconnects)),
	))

	closeSinks()
	return err
}

// createSinks wires the optional recorder and live monitors. The returned
// function releases them after the flight.
func createSinks(ctx context.Context, config *Config, tel *telemetry.Telemetry, logger *slog.Logger) ([]flight.Sink, func(), error) {
	var sinks []flight.Sink
	var closers []func()

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if config.Recorder.Enabled {
		store, err := createStorage(&config.Recorder)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create storage: %w", err)
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.Error(fmt.Sprintf("closing storage: %s", err.Error()))
			}
		})

		flightID, err := store.CreateFlight(ctx, config.Vehicle.Endpoint+"://"+config.Vehicle.Address, config)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create flight: %w", err)
		}

		recorder := storage.NewRecorder(store, flightID,
			storage.WithLogger(logger),
			storage.WithTelemetry(tel),
			storage.WithMaxBatchSize(config.Recorder.MaxBatchSize),
			storage.WithFlushInterval(time.Duration(config.Recorder.FlushInterval)),
		)
		closers = append(closers, func() {
			if err := recorder.Close(); err != nil {
				logger.Error(err.Error())
			}
			if n := recorder.Dropped(); n > 0 {
				logger.Warn(fmt.Sprintf("recorder dropped %s ticks", humanize.Comma(int64(n))))
			}
		})

		sinks = append(sinks, recorder)
		logger.Info(fmt.Sprintf("recording flight %d", flightID))
	}

	if config.MQTT.Enabled {
		client, err := monitor.ConnectMQTT(config.MQTTConfig())
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}

		publisher := monitor.NewMQTTPublisher(client, config.MQTT.Topic,
			monitor.WithMQTTLogger(logger),
			monitor.WithQoS(config.MQTT.QoS),
		)
		closers = append(closers, publisher.Close)
		sinks = append(sinks, publisher)
	}

	if config.Monitor.Enabled {
		hub := monitor.NewHub(tel, monitor.WithHubLogger(logger))

		// the monitor outlives the interrupt so the landing can still be watched
		hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Serve(hubCtx, config.Monitor.Address); err != nil {
				logger.Error(err.Error())
			}
		}()

		closers = append(closers, func() {
			stopHub()
			wg.Wait()
		})
		sinks = append(sinks, hub)
	}

	return sinks, closeAll, nil
}

func createStorage(config *RecorderConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("flight_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}
