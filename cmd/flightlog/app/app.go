package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/indoor-pilot/internal/storage"
)

func Run(ctx context.Context, config *Config, w io.Writer, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.FlightID == 0 {
		return listFlights(ctx, store, w)
	}

	return dumpFlight(ctx, store, config, w, logger)
}

func listFlights(ctx context.Context, store *storage.SqliteStore, w io.Writer) error {
	flights, err := store.Flights(ctx)
	if err != nil {
		return err
	}
	if len(flights) == 0 {
		_, err = fmt.Fprintln(w, "no flights recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tTICKS\tPEAK\tVEHICLE")
	for _, f := range flights {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			humanize.Time(f.StartTime),
			formatDuration(f),
			humanize.Comma(f.Ticks),
			formatPeak(f.PeakAltitude),
			f.Vehicle,
		)
	}

	return tw.Flush()
}

func dumpFlight(ctx context.Context, store *storage.SqliteStore, config *Config, w io.Writer, logger *slog.Logger) error {
	f, err := store.Flight(ctx, config.FlightID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("flight %d not found", config.FlightID)
		}
		return err
	}

	logger.Info(fmt.Sprintf("flight %d started %s (%s), %s ticks, peak altitude %s",
		f.ID,
		f.StartTime.Local().Format(time.DateTime),
		humanize.Time(f.StartTime),
		humanize.Comma(f.Ticks),
		formatPeak(f.PeakAltitude),
	))

	if config.ShowConfig && f.Config != nil {
		if _, err = fmt.Fprintln(w, *f.Config); err != nil {
			return err
		}
	}

	iter, err := store.ReadTicks(ctx, f.ID, storage.WithPhases(config.Phases...))
	if err != nil {
		return err
	}
	defer iter.Close()

	var write func(storage.TickRecord) error
	var flush func() error

	switch config.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		write = func(t storage.TickRecord) error { return enc.Encode(newTickLine(t)) }
		flush = func() error { return nil }

	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "TIME\tPHASE\tDOWN\tTHRUST\tYAW\tFRONT\tLEFT\tTOP\tRIGHT\tBATTERY\t")
		write = func(t storage.TickRecord) error {
			_, err := fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%.1f\t%d\t%d\t%d\t%d\t%s\t\n",
				t.Time.Local().Format("15:04:05.000"),
				t.Phase,
				t.Altitude,
				t.Thrust,
				t.Yaw,
				t.Front,
				t.Left,
				t.Top,
				t.Right,
				formatVoltage(t.BatteryVoltage),
			)
			return err
		}
		flush = tw.Flush
	}

	var n int64
	for iter.Next(ctx) {
		if err = write(iter.Current()); err != nil {
			return err
		}
		n++
	}
	if err = iter.Error(); err != nil {
		return err
	}
	if err = flush(); err != nil {
		return err
	}

	logger.Info(fmt.Sprintf("dumped %s ticks", humanize.Comma(n)))
	return nil
}

type tickLine struct {
	Time           time.Time `json:"time"`
	Phase          string    `json:"phase"`
	Altitude       int       `json:"altitude"`
	Thrust         float64   `json:"thrust"`
	Yaw            float64   `json:"yaw"`
	Front          int       `json:"front"`
	Left           int       `json:"left"`
	Top            int       `json:"top"`
	Right          int       `json:"right"`
	BatteryVoltage *float64  `json:"batteryVoltage,omitempty"`
}

func newTickLine(t storage.TickRecord) tickLine {
	return tickLine{
		Time:           t.Time,
		Phase:          t.Phase.String(),
		Altitude:       t.Altitude,
		Thrust:         t.Thrust,
		Yaw:            t.Yaw,
		Front:          t.Front,
		Left:           t.Left,
		Top:            t.Top,
		Right:          t.Right,
		BatteryVoltage: t.BatteryVoltage,
	}
}

func formatDuration(f *storage.Flight) string {
	if f.EndTime == nil {
		return "unfinished"
	}
	return f.Duration().Round(time.Millisecond).String()
}

func formatPeak(mm *int) string {
	if mm == nil {
		return "-"
	}
	return humanize.Comma(int64(*mm)) + " mm"
}

func formatVoltage(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2fV", *v)
}
