package mavlink

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned for a flight mode the autopilot does not support
var ErrUnknownMode = errors.New("unknown flight mode")

// copterModes maps ArduCopter mode names to their custom mode numbers
var copterModes = map[string]uint32{
	"STABILIZE":    0,
	"ACRO":         1,
	"ALT_HOLD":     2,
	"AUTO":         3,
	"GUIDED":       4,
	"LOITER":       5,
	"RTL":          6,
	"CIRCLE":       7,
	"LAND":         9,
	"DRIFT":        11,
	"SPORT":        13,
	"POSHOLD":      16,
	"BRAKE":        17,
	"SMART_RTL":    21,
	"GUIDED_NOGPS": 20,
}

// CustomMode returns the custom mode number for an ArduCopter mode name
func CustomMode(name string) (uint32, error) {
	m, ok := copterModes[strings.ToUpper(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMode, name)
	}
	return m, nil
}

// ModeName is the reverse of CustomMode
func ModeName(custom uint32) string {
	for name, m := range copterModes {
		if m == custom {
			return name
		}
	}
	return fmt.Sprintf("MODE(%d)", custom)
}
