package particles

import "math"

// RenderHandles exposes read-only views of the particle state for
// consumers: renderers read positions and radii directly, and compute
// per-vertex color from the implied velocity.
//
// The slices alias the engine's live arrays; they are valid until the
// next Step or Spawn call and must not be written through.
type RenderHandles struct {
	// Positions is the interleaved xy array, 2*Len elements.
	Positions []float32

	// PrevPositions mirrors positions from the previous frame.
	PrevPositions []float32

	// Radii holds one radius per particle.
	Radii []float32

	// Len is the live particle count.
	Len int

	// MaxVelocity normalizes the color gradient.
	MaxVelocity float32
}

// Handles returns the current render handles.
func (e *Engine) Handles() RenderHandles {
	return RenderHandles{
		Positions:     e.positions[:2*e.n],
		PrevPositions: e.prev[:2*e.n],
		Radii:         e.radii[:e.n],
		Len:           e.n,
		MaxVelocity:   e.cfg.MaxVelocity,
	}
}

// Gradient stops: blue at rest, through pink, to yellow at max velocity.
var (
	colorSlow = [3]float32{0.15, 0.3, 1.0}
	colorMid  = [3]float32{1.0, 0.4, 0.75}
	colorFast = [3]float32{1.0, 0.95, 0.3}
)

// VelocityColor maps a velocity magnitude to the three-stop gradient,
// normalized by maxVelocity. Out-of-range speeds clamp to the end stops.
func VelocityColor(speed, maxVelocity float32) [3]float32 {
	if maxVelocity <= 0 {
		return colorSlow
	}
	t := speed / maxVelocity
	switch {
	case t <= 0:
		return colorSlow
	case t < 0.5:
		return lerp3(colorSlow, colorMid, t*2)
	case t < 1:
		return lerp3(colorMid, colorFast, (t-0.5)*2)
	default:
		return colorFast
	}
}

// Speed returns particle k's velocity magnitude implied by the Verlet
// position pair.
func (h RenderHandles) Speed(k int) float32 {
	dx := h.Positions[2*k] - h.PrevPositions[2*k]
	dy := h.Positions[2*k+1] - h.PrevPositions[2*k+1]
	return float32(math.Sqrt(float64(dx*dx + dy*dy)))
}

// Color returns particle k's gradient color.
func (h RenderHandles) Color(k int) [3]float32 {
	return VelocityColor(h.Speed(k), h.MaxVelocity)
}

func lerp3(a, b [3]float32, t float32) [3]float32 {
	return [3]float32{
		a[0] + (b[0]-a[0])*t,
		a[1] + (b[1]-a[1])*t,
		a[2] + (b[2]-a[2])*t,
	}
}
