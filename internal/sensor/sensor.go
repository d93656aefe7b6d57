// Package sensor declares the gateway host's temperature sensor as an
// external collaborator (§1 Non-goals: hardware access); this repo ships
// only a reference implementation reading a Linux hwmon-style file, the
// same source original_source's hardware service reads.
package sensor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Temperature is the gateway board temperature reader collaborator.
type Temperature interface {
	Temperature() (float32, error)
}

// FileTemperature reads a hwmon temperature file, whose content is an
// integer number of millidegrees Celsius (matching
// original_source/.../hardware.rs's `/ 1000f32`).
type FileTemperature struct {
	Path string
}

func (f FileTemperature) Temperature() (float32, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("sensor: read %s: %w", f.Path, err)
	}
	millidegrees, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 32)
	if err != nil {
		return 0, fmt.Errorf("sensor: parse %s: %w", f.Path, err)
	}
	return float32(millidegrees) / 1000, nil
}
