package particles

// Option configures an Engine during creation.
//
// Example:
//
//	// Default hybrid execution (GPU when available)
//	e, err := particles.New(cfg)
//
//	// Force the CPU reference path (tests, headless CI)
//	e, err := particles.New(cfg, particles.WithCPUOnly())
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	cpuOnly bool
	workers int
	seed    int64
	tracing bool
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		workers: 0, // resolved to GOMAXPROCS
		seed:    1,
	}
}

// WithCPUOnly disables GPU bootstrap entirely; the engine runs the CPU
// reference kernels. Tests use this to stay deterministic on machines
// without an adapter.
func WithCPUOnly() Option {
	return func(o *engineOptions) {
		o.cpuOnly = true
	}
}

// WithWorkers sets the number of goroutines used by the range-parallel
// CPU kernels. Zero or negative selects GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *engineOptions) {
		o.workers = n
	}
}

// WithSeed sets the spawn-jitter seed, making spawn layouts reproducible.
func WithSeed(seed int64) Option {
	return func(o *engineOptions) {
		o.seed = seed
	}
}

// WithTracing enables the chrome trace recorder; retrieve it with
// Engine.Trace and write it out after the run.
func WithTracing() Option {
	return func(o *engineOptions) {
		o.tracing = true
	}
}
