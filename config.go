package particles

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/particles/internal/grid"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Configuration errors.
var (
	// ErrInvalidWorldSize is returned when a world dimension is not positive.
	ErrInvalidWorldSize = errors.New("particles: world size must be positive")

	// ErrInvalidCellSize is returned when the derived cell size is smaller
	// than twice the maximum radius, which would break the 4-slot key budget.
	ErrInvalidCellSize = errors.New("particles: cell size must be at least twice the max radius")

	// ErrInvalidCapacity is returned when the initial capacity is not positive.
	ErrInvalidCapacity = errors.New("particles: capacity must be positive")
)

// Config holds the engine parameters. The zero value is not usable; start
// from DefaultConfig or LoadConfig.
type Config struct {
	// WorldSize is the simulation domain in world units; both components
	// must be positive.
	WorldSize [2]float32

	// Gravity is the constant acceleration applied every frame.
	Gravity [2]float32

	// MaxRadius bounds spawned particle radii and derives the grid cell
	// size.
	MaxRadius float32

	// CellSizeFactor scales MaxRadius into the cell size; must be >= 2 so
	// a disk touches at most four cells.
	CellSizeFactor float32

	// Stiffness scales the solver's positional correction per overlap.
	Stiffness float32

	// AttractStrength is the pointer-attraction acceleration magnitude.
	AttractStrength float32

	// MaxVelocity normalizes the velocity color gradient.
	MaxVelocity float32

	// ReorderInterval is the simulated-seconds period of the Morton
	// locality pass; zero disables it.
	ReorderInterval float32

	// Capacity is the initial particle capacity; the pool grows
	// geometrically past it.
	Capacity int

	// PerfWindow is the telemetry rolling-window size in frames.
	PerfWindow int
}

// fileConfig is the YAML shape of a config file.
type fileConfig struct {
	World struct {
		Width  float32 `yaml:"width"`
		Height float32 `yaml:"height"`
	} `yaml:"world"`
	Physics struct {
		GravityX        float32 `yaml:"gravity_x"`
		GravityY        float32 `yaml:"gravity_y"`
		MaxRadius       float32 `yaml:"max_radius"`
		CellSizeFactor  float32 `yaml:"cell_size_factor"`
		Stiffness       float32 `yaml:"stiffness"`
		AttractStrength float32 `yaml:"attract_strength"`
	} `yaml:"physics"`
	Render struct {
		MaxVelocity float32 `yaml:"max_velocity"`
	} `yaml:"render"`
	Engine struct {
		ReorderInterval float32 `yaml:"reorder_interval"`
		Capacity        int     `yaml:"capacity"`
		PerfWindow      int     `yaml:"perf_window"`
	} `yaml:"engine"`
}

func (fc *fileConfig) toConfig() Config {
	return Config{
		WorldSize:       [2]float32{fc.World.Width, fc.World.Height},
		Gravity:         [2]float32{fc.Physics.GravityX, fc.Physics.GravityY},
		MaxRadius:       fc.Physics.MaxRadius,
		CellSizeFactor:  fc.Physics.CellSizeFactor,
		Stiffness:       fc.Physics.Stiffness,
		AttractStrength: fc.Physics.AttractStrength,
		MaxVelocity:     fc.Render.MaxVelocity,
		ReorderInterval: fc.Engine.ReorderInterval,
		Capacity:        fc.Engine.Capacity,
		PerfWindow:      fc.Engine.PerfWindow,
	}
}

// DefaultConfig returns the embedded default configuration.
func DefaultConfig() Config {
	var fc fileConfig
	// The embedded defaults are validated by tests; a parse failure here
	// is a build defect.
	if err := yaml.Unmarshal(defaultsYAML, &fc); err != nil {
		panic(fmt.Sprintf("particles: embedded defaults corrupt: %v", err))
	}
	return fc.toConfig()
}

// LoadConfig reads a YAML config file layered over the embedded defaults:
// fields absent from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(defaultsYAML, &fc); err != nil {
		return Config{}, fmt.Errorf("particles: parse defaults: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("particles: read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("particles: parse config %s: %w", path, err)
	}

	cfg := fc.toConfig()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CellSize returns the derived grid cell size.
func (c *Config) CellSize() float32 {
	factor := c.CellSizeFactor
	if factor == 0 {
		factor = grid.CellSizeFactor
	}
	return c.MaxRadius * factor
}

// Validate checks the configuration invariants. Violations are fatal at
// engine construction.
func (c *Config) Validate() error {
	if c.WorldSize[0] <= 0 || c.WorldSize[1] <= 0 {
		return fmt.Errorf("%w: got (%v, %v)", ErrInvalidWorldSize, c.WorldSize[0], c.WorldSize[1])
	}
	if c.MaxRadius <= 0 {
		return fmt.Errorf("particles: max radius must be positive, got %v", c.MaxRadius)
	}
	if c.CellSize() < 2*c.MaxRadius {
		return fmt.Errorf("%w: cell size %v, max radius %v", ErrInvalidCellSize, c.CellSize(), c.MaxRadius)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, c.Capacity)
	}
	return nil
}
