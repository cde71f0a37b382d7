package types

import (
	"math"
	"strconv"
)

func round(v float64) int { return int(math.Round(v)) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func itoa(v int) string { return strconv.Itoa(v) }
