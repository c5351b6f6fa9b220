package storage

import (
	"database/sql"
	"errors"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil && !errors.Is(cErr, sql.ErrTxDone) {
		*err = cErr
	}
}

func toTickData(flightID int64, r TickRecord) *tickData {
	data := tickData{
		FlightID:  flightID,
		Timestamp: r.Time.UTC(),
		Phase:     r.Phase.String(),
		Altitude:  int64(r.Altitude),
		Thrust:    r.Thrust,
		Yaw:       r.Yaw,
		Front:     toNullDistance(r.Front),
		Left:      toNullDistance(r.Left),
		Top:       toNullDistance(r.Top),
		Right:     toNullDistance(r.Right),
	}

	if r.BatteryVoltage != nil {
		data.BatteryVoltage = sql.NullFloat64{Float64: *r.BatteryVoltage, Valid: true}
	}

	return &data
}

func fromTickData(d *tickData) (TickRecord, error) {
	phase, err := flight.ParsePhase(d.Phase)
	if err != nil {
		return TickRecord{}, err
	}

	r := TickRecord{
		ID: d.ID,
		Tick: flight.Tick{
			Time:     d.Timestamp,
			Phase:    phase,
			Altitude: int(d.Altitude),
			Thrust:   d.Thrust,
			Yaw:      d.Yaw,
		},
		Front: fromNullDistance(d.Front),
		Left:  fromNullDistance(d.Left),
		Top:   fromNullDistance(d.Top),
		Right: fromNullDistance(d.Right),
	}

	if d.BatteryVoltage.Valid {
		r.BatteryVoltage = &d.BatteryVoltage.Float64
	}

	return r, nil
}

func fromFlightData(d *flightData) *Flight {
	f := Flight{
		ID:        d.ID,
		StartTime: d.StartTime,
		Vehicle:   d.Vehicle,
		Ticks:     d.Ticks,
	}

	if d.EndTime.Valid {
		f.EndTime = &d.EndTime.Time
	}
	if d.Config.Valid {
		f.Config = &d.Config.String
	}
	if d.PeakAltitude.Valid {
		v := int(d.PeakAltitude.Int64)
		f.PeakAltitude = &v
	}

	return &f
}

func toNullDistance(mm int) sql.NullInt64 {
	if mm == telemetry.Unknown {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(mm), Valid: true}
}

func fromNullDistance(v sql.NullInt64) int {
	if !v.Valid {
		return telemetry.Unknown
	}
	return int(v.Int64)
}
