package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS flights (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time  TIMESTAMP NOT NULL,
    end_time    TIMESTAMP,
    vehicle     TEXT      NOT NULL,
    config      TEXT,
    ticks       INTEGER   NOT NULL DEFAULT 0,
    peak_altitude INTEGER
);

CREATE TABLE IF NOT EXISTS ticks (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    flight_id       INTEGER NOT NULL REFERENCES flights (id),
    timestamp       TIMESTAMP NOT NULL,
    phase           TEXT    NOT NULL,
    altitude        INTEGER NOT NULL,
    thrust          REAL    NOT NULL,
    yaw             REAL    NOT NULL,
    front_mm        INTEGER,
    left_mm         INTEGER,
    top_mm          INTEGER,
    right_mm        INTEGER,
    battery_voltage REAL
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_ticks_flight_id ON ticks (flight_id, id);`

	insertFlightSQL = `
INSERT INTO flights (
                     start_time,
                     vehicle,
                     config)
VALUES (?, ?, ?)`

	finishFlightSQL = `
UPDATE flights
SET end_time      = ?,
    ticks         = ?,
    peak_altitude = ?
WHERE
    id = ?`

	selectFlightSQL = `
SELECT
    id,
    start_time,
    end_time,
    vehicle,
    config,
    ticks,
    peak_altitude
FROM flights
WHERE
    id = ?`

	selectFlightsSQL = `
SELECT
    id,
    start_time,
    end_time,
    vehicle,
    config,
    ticks,
    peak_altitude
FROM flights
ORDER BY start_time`

	insertTicksSQL = `
INSERT INTO ticks (
                   flight_id,
                   timestamp,
                   phase,
                   altitude,
                   thrust,
                   yaw,
                   front_mm,
                   left_mm,
                   top_mm,
                   right_mm,
                   battery_voltage)
VALUES `

	selectTicksSQL = `
SELECT
    id,
    timestamp,
    phase,
    altitude,
    thrust,
    yaw,
    front_mm,
    left_mm,
    top_mm,
    right_mm,
    battery_voltage
FROM ticks
WHERE
    flight_id = ?
    AND id > ?`
)
