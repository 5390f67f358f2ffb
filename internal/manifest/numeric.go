package manifest

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ParseFloat converts s to a float64. Malformed, empty, NaN and infinite
// input yields 0.
func ParseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ParseInt converts s to an int64. Malformed or empty input yields 0.
// A fractional value is truncated.
func ParseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return int64(ParseFloat(s))
}

// isoDurationRe matches xs:duration values such as "PT1H2M3.5S" or "P1DT2H".
var isoDurationRe = regexp.MustCompile(`^(-)?P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration converts an ISO-8601 duration to seconds. Years and
// months use 365 and 30 days. Malformed or negative input yields 0.
func ParseISODuration(s string) float64 {
	m := isoDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || m[1] == "-" {
		return 0
	}
	mult := []float64{0, 0, 365 * 86400, 30 * 86400, 86400, 3600, 60, 1}
	var total float64
	for i := 2; i < len(m); i++ {
		if m[i] != "" {
			total += ParseFloat(m[i]) * mult[i]
		}
	}
	return total
}

// trailingNumberRe finds the last run of digits in an object name, ignoring
// the extension: "seg_00042.ts" -> "00042".
var trailingNumberRe = regexp.MustCompile(`(\d+)\D*$`)

// TrailingNumber extracts the last numeric run from a file name. ok is
// false when the name has no digits.
func TrailingNumber(name string) (int64, bool) {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	m := trailingNumberRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
