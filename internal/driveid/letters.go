// Package driveid allocates drive identifiers ("A:\" through "Z:\") to mount
// entries while avoiding identifiers the host already presents and those
// held by other entries.
package driveid

import (
	"fmt"
	"strings"

	"mirrordrive/internal/mount"
)

// Letters returns the identifier universe in order.
func Letters() []string {
	out := make([]string, 0, 26)
	for c := 'A'; c <= 'Z'; c++ {
		out = append(out, string(c)+`:\`)
	}
	return out
}

// Normalize accepts "z", "Z:", "Z:\" or "Z:/" and returns "Z:\".
func Normalize(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimRight(trimmed, `\/`)
	trimmed = strings.TrimSuffix(trimmed, ":")
	if len(trimmed) != 1 {
		return "", fmt.Errorf("%q: %w", value, mount.ErrInvalidTarget)
	}
	letter := strings.ToUpper(trimmed)
	if letter[0] < 'A' || letter[0] > 'Z' {
		return "", fmt.Errorf("%q: %w", value, mount.ErrInvalidTarget)
	}
	return letter + `:\`, nil
}

// Letter returns the bare upper-case letter of a normalized identifier.
func Letter(target string) string {
	if target == "" {
		return ""
	}
	return strings.ToUpper(target[:1])
}

// AutoSelect keeps current when it is still available, otherwise picks the
// first available identifier. It reports false when available is empty.
func AutoSelect(current string, available []string) (string, bool) {
	if current != "" {
		for _, candidate := range available {
			if candidate == current {
				return current, true
			}
		}
	}
	if len(available) == 0 {
		return "", false
	}
	return available[0], true
}
