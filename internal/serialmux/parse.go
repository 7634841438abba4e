package serialmux

import (
	"math"
	"strconv"
	"strings"
)

// ParseSample interprets one line from the sensor board as an amplitude.
// Blank lines, boot banners, partial lines and non-finite values report
// false; they are skipped, never treated as errors.
func ParseSample(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
