package app

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	DBPath     string
	FlightID   int64 // Zero lists the recorded flights
	Phases     []flight.Phase
	Format     string
	ShowConfig bool
	Verbose    bool
}

func NewConfig() *Config {
	return &Config{
		Format: FormatText,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var phases string
	flag.StringVar(&c.DBPath, "db", "", "Path to the flight database file")
	flag.Int64Var(&c.FlightID, "f", 0, "Flight ID to dump, lists flights when omitted")
	flag.StringVar(&phases, "phase", "", "Comma separated phases to dump, e.g. takeoff_ramp,holding")
	flag.StringVar(&c.Format, "format", FormatText, "Output format. [text, json]")
	flag.BoolVar(&c.ShowConfig, "config", false, "Print the configuration the flight was flown with")
	flag.BoolVar(&c.Verbose, "v", false, "Log flight summary and progress to stderr")
	flag.Parse()

	if err := c.parse(phases); err != nil {
		flag.Usage()
		return nil, err
	}

	return c, nil
}

// LogLevel keeps stderr quiet unless -v is given
func (c *Config) LogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func (c *Config) parse(phases string) error {
	c.Format = strings.ToLower(c.Format)

	switch {
	case c.DBPath == "":
		return errors.New("db path is required")
	case c.FlightID < 0:
		return errors.New("flight id must be positive")
	case c.Format != FormatText && c.Format != FormatJSON:
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	for _, name := range strings.Split(phases, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		p, err := flight.ParsePhase(name)
		if err != nil {
			return err
		}
		c.Phases = append(c.Phases, p)
	}

	return nil
}
