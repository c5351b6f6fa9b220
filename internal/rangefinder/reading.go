package rangefinder

import (
	"strconv"
	"strings"

	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

// NumTokens is the number of comma separated values in one sensor line
const NumTokens = 5

// Reading is one decoded sensor line. Tokens that did not parse keep Valid
// set to false and must not update the corresponding channel.
type Reading struct {
	Distances [NumTokens]int // Millimetres, in telemetry.Channels order
	Valid     [NumTokens]bool
}

// ParseLine decodes "front,left,top,down,right". A line with any other number
// of tokens is rejected as a whole; within a five token line every token is
// validated independently.
func ParseLine(line string) (Reading, bool) {
	var r Reading

	tokens := strings.Split(strings.TrimSpace(line), ",")
	if len(tokens) != NumTokens {
		return r, false
	}

	for i, token := range tokens {
		v, err := strconv.ParseUint(strings.TrimSpace(token), 10, 31)
		if err != nil {
			continue
		}
		r.Distances[i] = int(v)
		r.Valid[i] = true
	}

	return r, true
}

// Apply writes the valid distances into the shared telemetry and returns the
// number of channels updated.
func (r Reading) Apply(t *telemetry.Telemetry) int {
	var n int
	for i, c := range telemetry.Channels {
		if !r.Valid[i] {
			continue
		}
		if t.Set(c, r.Distances[i]) {
			n++
		}
	}
	return n
}
