package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
)

const defaultReaderBatchSize = 500

// ReaderOption configures a SqliteTickReader
type ReaderOption func(*SqliteTickReader)

// WithBatchSize sets the number of rows loaded per query
func WithBatchSize(n int) ReaderOption {
	return func(r *SqliteTickReader) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithPhases restricts the reader to ticks of the given phases
func WithPhases(phases ...flight.Phase) ReaderOption {
	return func(r *SqliteTickReader) {
		r.phases = append(r.phases, phases...)
	}
}

// SqliteTickReader iterates over the ticks of a flight page by page.
// A reader must only be used from a single goroutine.
type SqliteTickReader struct {
	db        *sql.DB
	flightID  int64
	batchSize int
	phases    []flight.Phase

	lastID  int64
	buffer  []TickRecord
	current TickRecord
	done    bool
	err     error
}

func newSqliteTickReader(db *sql.DB, flightID int64, opts ...ReaderOption) *SqliteTickReader {
	r := &SqliteTickReader{
		db:        db,
		flightID:  flightID,
		batchSize: defaultReaderBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next advances the reader, it returns false at the end of data or on error
func (r *SqliteTickReader) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}

	if len(r.buffer) == 0 {
		if r.done {
			return false
		}
		if r.err = r.fetch(ctx); r.err != nil || len(r.buffer) == 0 {
			return false
		}
	}

	r.current, r.buffer = r.buffer[0], r.buffer[1:]
	return true
}

// Current returns the tick loaded by the last successful Next
func (r *SqliteTickReader) Current() TickRecord {
	return r.current
}

// Error returns the error which stopped the iteration, if any
func (r *SqliteTickReader) Error() error {
	return r.err
}

// Close releases the buffered rows. The database connection is owned by the store.
func (r *SqliteTickReader) Close() error {
	r.buffer = nil
	r.done = true
	return nil
}

func (r *SqliteTickReader) query() (string, []any) {
	args := []any{r.flightID, r.lastID}

	var sb strings.Builder
	sb.WriteString(selectTicksSQL)

	if len(r.phases) > 0 {
		sb.WriteString("\n    AND phase IN (")
		for i, p := range r.phases {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, p.String())
		}
		sb.WriteString(")")
	}

	sb.WriteString("\nORDER BY id\nLIMIT ?")
	args = append(args, r.batchSize)

	return sb.String(), args
}

func (r *SqliteTickReader) fetch(ctx context.Context) (err error) {
	q, args := r.query()

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("querying ticks: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data tickData
		if err = rows.Scan(
			&data.ID,
			&data.Timestamp,
			&data.Phase,
			&data.Altitude,
			&data.Thrust,
			&data.Yaw,
			&data.Front,
			&data.Left,
			&data.Top,
			&data.Right,
			&data.BatteryVoltage,
		); err != nil {
			return fmt.Errorf("scanning tick: %w", err)
		}

		t, err := fromTickData(&data)
		if err != nil {
			return fmt.Errorf("tick %d: %w", data.ID, err)
		}

		r.buffer = append(r.buffer, t)
		r.lastID = data.ID
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("reading ticks: %w", err)
	}

	if len(r.buffer) < r.batchSize {
		r.done = true
	}

	return nil
}
