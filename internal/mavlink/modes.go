package mavlink

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownMode = errors.New("mavlink: unknown flight mode")

// copterModes maps ArduCopter custom_mode numbers to mode names.
var copterModes = map[uint32]string{
	0:  "STABILIZE",
	1:  "ACRO",
	2:  "ALT_HOLD",
	3:  "AUTO",
	4:  "GUIDED",
	5:  "LOITER",
	6:  "RTL",
	7:  "CIRCLE",
	9:  "LAND",
	11: "DRIFT",
	13: "SPORT",
	14: "FLIP",
	15: "AUTOTUNE",
	16: "POSHOLD",
	17: "BRAKE",
	18: "THROW",
	19: "AVOID_ADSB",
	20: "GUIDED_NOGPS",
	21: "SMART_RTL",
}

var copterModeNumbers = func() map[string]uint32 {
	m := make(map[string]uint32, len(copterModes))
	for n, name := range copterModes {
		m[name] = n
	}
	return m
}()

// ModeName returns the ArduCopter name of a custom mode, or "MODE(n)" for
// numbers outside the table.
func ModeName(custom uint32) string {
	if name, ok := copterModes[custom]; ok {
		return name
	}
	return fmt.Sprintf("MODE(%d)", custom)
}

// CustomMode looks up the custom_mode number of a mode name. Matching is
// case-insensitive.
func CustomMode(name string) (uint32, error) {
	n, ok := copterModeNumbers[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	return n, nil
}
