// Package distance converts received signal strength into an estimated
// range in meters.
package distance

import (
	"fmt"
	"math"
)

// Curve coefficients fitted for Nexus 4 receivers; the same values ship as
// the default model in common Android beacon libraries.
const (
	coefficient1 = 0.89976
	coefficient2 = 7.7095
	coefficient3 = 0.111
)

// Unknown marks a reading that cannot be turned into a distance. It is
// positive infinity so it sorts after every real measurement.
var Unknown = math.Inf(1)

// Estimate returns the distance in meters for a measured RSSI given the
// beacon's calibrated RSSI at one meter. Both values are in dBm and
// expected to be negative; anything else yields Unknown.
//
// The result is non-increasing in measuredRSSI and is about 1 m when the
// two values are equal.
func Estimate(measuredRSSI, calibrationRSSI int) float64 {
	if measuredRSSI >= 0 || calibrationRSSI >= 0 {
		return Unknown
	}

	ratio := float64(measuredRSSI) / float64(calibrationRSSI)
	if ratio < 1.0 {
		return math.Pow(ratio, 10)
	}
	return coefficient1*math.Pow(ratio, coefficient2) + coefficient3
}

// IsUnknown reports whether d is the Unknown sentinel.
func IsUnknown(d float64) bool {
	return math.IsInf(d, 1)
}

// Format renders a distance for display.
func Format(d float64) string {
	if IsUnknown(d) {
		return "unknown"
	}
	return fmt.Sprintf("%.2f m", d)
}
