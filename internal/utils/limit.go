// Package utils holds small parsing helpers for the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// ParseLimit reads a "limit" query value. Empty, malformed and non-positive
// values mean "no cap" (0). When max > 0, larger values are clamped to max.
//
//	utils.ParseLimit("20", 500)  // 20
//	utils.ParseLimit("-3", 500)  // 0
//	utils.ParseLimit("9000", 500) // 500
func ParseLimit(raw string, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
