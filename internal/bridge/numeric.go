package bridge

import (
	"math"
	"strconv"
	"strings"
)

// FemtosecondsPerSecond converts sample rates to sample periods.
const FemtosecondsPerSecond = 1e15

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &ArgumentError{Kind: ArgInvalidUint, Value: s, Err: err}
	}
	return v, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ArgumentError{Kind: ArgInvalidFloat, Value: s, Err: err}
	}
	return v, nil
}

// formatPeriod renders v in shortest round-trip form, writing exponents as
// e12 rather than e+12: 1e12, 5e11, 1000.
func formatPeriod(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	n, err := strconv.Atoi(exp)
	if err != nil {
		return s
	}
	return mant + "e" + strconv.Itoa(n)
}
