package quality

import (
	"fmt"
	"strings"
)

// Level is a rendering detail level. Higher values mean more detail.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses low, medium or high.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, nil
	case "medium", "":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	}
	return LevelMedium, fmt.Errorf("unknown quality level %q", s)
}

// Settings is the rendering bundle applied at one level.
type Settings struct {
	Representation   string `json:"representation"`
	Shadows          bool   `json:"shadows"`
	AmbientOcclusion bool   `json:"ambient_occlusion"`
	SphereSegments   int    `json:"sphere_segments"`
	MaxAtoms         int    `json:"max_atoms"`
}

// DefaultSettings returns the bundle for each level.
func DefaultSettings() map[Level]Settings {
	return map[Level]Settings{
		LevelLow: {
			Representation: "backbone",
			SphereSegments: 8,
			MaxAtoms:       50_000,
		},
		LevelMedium: {
			Representation: "cartoon",
			Shadows:        true,
			SphereSegments: 16,
			MaxAtoms:       200_000,
		},
		LevelHigh: {
			Representation:   "ball-and-stick",
			Shadows:          true,
			AmbientOcclusion: true,
			SphereSegments:   32,
			MaxAtoms:         1_000_000,
		},
	}
}
