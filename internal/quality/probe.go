package quality

import (
	"context"
	"fmt"
	"strings"
)

// Capability is the result of device detection.
type Capability struct {
	Level    Level  `json:"level"`
	Renderer string `json:"renderer,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// CapabilityProbe picks a starting level from the device.
type CapabilityProbe interface {
	Probe(ctx context.Context) (Capability, error)
}

// StaticProbe always reports the same level.
type StaticProbe Level

// Probe implements CapabilityProbe.
func (s StaticProbe) Probe(context.Context) (Capability, error) {
	return Capability{Level: Level(s), Reason: "static"}, nil
}

var (
	lowEndRenderers = []string{
		"swiftshader", "llvmpipe", "softpipe", "software", "microsoft basic render",
		"mali-4", "mali-t6", "adreno (tm) 3", "adreno (tm) 4", "powervr sgx",
	}
	highEndRenderers = []string{
		"geforce", "rtx", "quadro", "radeon rx", "radeon pro", "apple m",
	}
)

// RendererProbe buckets a GPU renderer string by substring match.
type RendererProbe struct {
	Renderer string
}

// Probe implements CapabilityProbe. An empty renderer string is an error.
func (p RendererProbe) Probe(ctx context.Context) (Capability, error) {
	if err := ctx.Err(); err != nil {
		return Capability{}, err
	}
	name := strings.ToLower(strings.TrimSpace(p.Renderer))
	if name == "" {
		return Capability{}, fmt.Errorf("renderer string is empty")
	}
	for _, pat := range lowEndRenderers {
		if strings.Contains(name, pat) {
			return Capability{Level: LevelLow, Renderer: p.Renderer, Reason: "matched " + pat}, nil
		}
	}
	for _, pat := range highEndRenderers {
		if strings.Contains(name, pat) {
			return Capability{Level: LevelHigh, Renderer: p.Renderer, Reason: "matched " + pat}, nil
		}
	}
	return Capability{Level: LevelMedium, Renderer: p.Renderer, Reason: "no pattern matched"}, nil
}
