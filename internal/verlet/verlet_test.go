package verlet

import (
	"math"
	"testing"
)

func params() Params {
	return Params{
		Dt:     0.016,
		WorldW: 100, WorldH: 100,
		AttractStrength: 150,
	}
}

func TestRestParticleStaysPut(t *testing.T) {
	// Scenario 1: one particle at rest, no gravity, 60 frames: exact.
	positions := []float32{50, 50}
	prev := []float32{50, 50}
	radii := []float32{1}

	p := params()
	for frame := 0; frame < 60; frame++ {
		Integrate(positions, prev, radii, 1, p)
	}

	if positions[0] != 50 || positions[1] != 50 {
		t.Errorf("position = (%v,%v), want (50,50) exactly", positions[0], positions[1])
	}
}

func TestGravityDrop(t *testing.T) {
	// Scenario 3: a dropped particle falls monotonically and settles at
	// the floor inset, y = radius.
	positions := []float32{50, 90}
	prev := []float32{50, 90}
	radii := []float32{1}

	p := params()
	p.Dt = 0.003
	p.GravityY = -39.3

	lastY := positions[1]
	settled := false
	for frame := 0; frame < 200000; frame++ {
		Integrate(positions, prev, radii, 1, p)
		y := positions[1]
		if y < 1.0 {
			t.Fatalf("frame %d: y = %v fell below the floor inset", frame, y)
		}
		if !settled && y > lastY {
			t.Fatalf("frame %d: y increased from %v to %v before settling", frame, lastY, y)
		}
		if y == 1.0 {
			settled = true
		}
		lastY = y
	}
	if !settled {
		t.Error("particle never reached the floor")
	}
}

func TestVelocityCarriesOver(t *testing.T) {
	// Verlet velocity: pos - prev propagates without acceleration.
	positions := []float32{10, 50}
	prev := []float32{9, 50}
	radii := []float32{1}

	Integrate(positions, prev, radii, 1, params())

	if positions[0] != 11 {
		t.Errorf("x = %v, want 11", positions[0])
	}
	if prev[0] != 10 {
		t.Errorf("prev x = %v, want 10", prev[0])
	}
}

func TestContainmentClamp(t *testing.T) {
	// Positions stay inside [r, world - r] componentwise.
	tests := []struct {
		name      string
		pos, prev [2]float32
	}{
		{"fast right", [2]float32{98, 50}, [2]float32{90, 50}},
		{"fast left", [2]float32{2, 50}, [2]float32{10, 50}},
		{"fast up", [2]float32{50, 98}, [2]float32{50, 90}},
		{"fast down", [2]float32{50, 2}, [2]float32{50, 10}},
		{"corner", [2]float32{98, 98}, [2]float32{90, 90}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := []float32{tt.pos[0], tt.pos[1]}
			prev := []float32{tt.prev[0], tt.prev[1]}
			radii := []float32{1.5}

			Integrate(positions, prev, radii, 1, params())

			for c := 0; c < 2; c++ {
				if positions[c] < 1.5 || positions[c] > 98.5 {
					t.Errorf("component %d = %v escaped [1.5, 98.5]", c, positions[c])
				}
			}
		})
	}
}

func TestMouseAttractionPullsInward(t *testing.T) {
	positions := []float32{50, 50}
	prev := []float32{50, 50}
	radii := []float32{1}

	p := params()
	p.Attract = true
	p.MouseX, p.MouseY = 60, 50

	Integrate(positions, prev, radii, 1, p)

	if positions[0] <= 50 {
		t.Errorf("x = %v, want movement toward the pointer", positions[0])
	}
	if positions[1] != 50 {
		t.Errorf("y = %v, want 50", positions[1])
	}
}

func TestMouseOnParticleNoNaN(t *testing.T) {
	// Pointer exactly on the particle: attraction is omitted, no NaN.
	positions := []float32{50, 50}
	prev := []float32{50, 50}
	radii := []float32{1}

	p := params()
	p.Attract = true
	p.MouseX, p.MouseY = 50, 50

	Integrate(positions, prev, radii, 1, p)

	for i, v := range positions {
		if math.IsNaN(float64(v)) {
			t.Fatalf("position %d is NaN", i)
		}
	}
	if positions[0] != 50 || positions[1] != 50 {
		t.Errorf("position moved with zero-distance attraction: %v", positions)
	}
}

func TestIntegrateRangeMatchesFull(t *testing.T) {
	// Range-partitioned execution must be indistinguishable from one
	// sequential sweep.
	const n = 257
	a := make([]float32, 2*n)
	b := make([]float32, 2*n)
	prevA := make([]float32, 2*n)
	prevB := make([]float32, 2*n)
	radii := make([]float32, n)
	for k := 0; k < n; k++ {
		a[2*k] = float32(10 + k%80)
		a[2*k+1] = float32(10 + (k*7)%80)
		prevA[2*k] = a[2*k] - 0.1
		prevA[2*k+1] = a[2*k+1] + 0.05
		radii[k] = 1
	}
	copy(b, a)
	copy(prevB, prevA)

	p := params()
	p.GravityY = -9.8

	Integrate(a, prevA, radii, n, p)

	mid := n / 2
	IntegrateRange(b, prevB, radii, 0, mid, p)
	IntegrateRange(b, prevB, radii, mid, n, p)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("range split diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}
}
