package storage

import (
	"database/sql"
	"time"
)

type flightData struct {
	ID           int64
	StartTime    time.Time
	EndTime      sql.NullTime
	Vehicle      string
	Config       sql.NullString
	Ticks        int64
	PeakAltitude sql.NullInt64
}

type tickData struct {
	ID             int64
	FlightID       int64
	Timestamp      time.Time
	Phase          string
	Altitude       int64
	Thrust         float64
	Yaw            float64
	Front          sql.NullInt64
	Left           sql.NullInt64
	Top            sql.NullInt64
	Right          sql.NullInt64
	BatteryVoltage sql.NullFloat64
}
