package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FlightSummary is written when a flight finishes
type FlightSummary struct {
	EndTime      time.Time
	Ticks        int64
	PeakAltitude int // mm, telemetry.Unknown if the vehicle never reported one
}

// Store records flights and their controller ticks. Nothing in a store is read
// back by the pilot, it exists for after-flight inspection only.
type Store interface {
	// CreateFlight starts a new flight record and returns its identifier.
	// config can be a string, []byte or any JSON-serializable value.
	CreateFlight(ctx context.Context, vehicle string, config any) (flightID int64, err error)

	// FinishFlight stores the end time and totals of a flight
	FinishFlight(ctx context.Context, flightID int64, summary FlightSummary) error

	// Flight returns a flight by ID, ErrNotFound if it does not exist
	Flight(ctx context.Context, flightID int64) (*Flight, error)

	// Flights returns all flights ordered by start time
	Flights(ctx context.Context) ([]*Flight, error)

	// StoreTicks saves the ticks in a single transaction
	StoreTicks(ctx context.Context, flightID int64, ticks []TickRecord) error

	// Close releases all database connections. It is safe to call Close multiple times.
	Close() error
}
