// Command particles runs the interactive simulation viewer: a raylib
// window over the engine, with camera pan/zoom, a spawn key, and pointer
// attraction. The engine itself is headless; everything here is the
// delegated input/render surface.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/gogpu/particles"
	"github.com/gogpu/particles/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (empty = defaults)")
	initial := flag.Int("n", 20000, "initial particle count")
	cpuOnly := flag.Bool("cpu", false, "skip GPU bootstrap")
	seed := flag.Int64("seed", 1, "spawn RNG seed")
	tracePath := flag.String("trace", "", "write a chrome trace file on exit")
	statsPath := flag.String("stats", "", "write a stage-timing CSV on exit")
	showGrid := flag.Bool("grid", false, "draw the uniform grid")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Parse()

	if *verbose {
		particles.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	cfg := particles.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = particles.LoadConfig(*configPath); err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	opts := []particles.Option{particles.WithSeed(*seed)}
	if *cpuOnly {
		opts = append(opts, particles.WithCPUOnly())
	}
	if *tracePath != "" {
		opts = append(opts, particles.WithTracing())
	}

	engine, err := particles.New(cfg, opts...)
	if err != nil {
		slog.Error("engine init failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.SpawnRandom(*initial, 1); err != nil {
		slog.Error("initial spawn failed", "error", err)
		os.Exit(1)
	}

	run(engine, cfg, *showGrid)

	if *tracePath != "" && engine.Trace() != nil {
		if err := engine.Trace().WriteFile(*tracePath); err != nil {
			slog.Error("trace write failed", "error", err)
		}
	}
	if *statsPath != "" {
		if err := telemetry.WriteSummaryFile(*statsPath, engine.Perf()); err != nil {
			slog.Error("stats write failed", "error", err)
		}
	}
}

func run(engine *particles.Engine, cfg particles.Config, showGrid bool) {
	const screenW, screenH = 1280, 720

	rl.InitWindow(screenW, screenH, "particles")
	defer rl.CloseWindow()
	rl.SetTargetFPS(60)

	camera := rl.Camera2D{
		Offset: rl.Vector2{X: screenW / 2, Y: screenH / 2},
		Target: rl.Vector2{X: cfg.WorldSize[0] / 2, Y: cfg.WorldSize[1] / 2},
		Zoom:   float32(screenH) / cfg.WorldSize[1] * 0.9,
	}

	rng := rand.New(rand.NewSource(99))

	for !rl.WindowShouldClose() {
		dt := rl.GetFrameTime()
		if dt > 0.033 {
			dt = 0.033 // clamp long stalls rather than tunnel particles
		}

		updateCamera(&camera, dt)

		mouse := screenToWorld(camera, rl.GetMousePosition(), cfg)
		if rl.IsKeyPressed(rl.KeySpace) {
			spawnBurst(engine, rng, mouse)
		}

		input := particles.FrameInput{
			DeltaTime:      dt,
			MousePos:       mouse,
			AttractPressed: rl.IsMouseButtonDown(rl.MouseButtonLeft),
		}
		if err := engine.Step(input); err != nil {
			slog.Error("step failed", "error", err)
			return
		}

		draw(engine, cfg, camera, showGrid)
	}
}

func updateCamera(camera *rl.Camera2D, dt float32) {
	const panSpeed = 600
	pan := panSpeed * dt / camera.Zoom
	if rl.IsKeyDown(rl.KeyW) || rl.IsKeyDown(rl.KeyUp) {
		camera.Target.Y -= pan
	}
	if rl.IsKeyDown(rl.KeyS) || rl.IsKeyDown(rl.KeyDown) {
		camera.Target.Y += pan
	}
	if rl.IsKeyDown(rl.KeyA) || rl.IsKeyDown(rl.KeyLeft) {
		camera.Target.X -= pan
	}
	if rl.IsKeyDown(rl.KeyD) || rl.IsKeyDown(rl.KeyRight) {
		camera.Target.X += pan
	}
	if wheel := rl.GetMouseWheelMove(); wheel != 0 {
		camera.Zoom *= 1 + wheel*0.1
		if camera.Zoom < 0.05 {
			camera.Zoom = 0.05
		}
	}
}

// screenToWorld maps the pointer into world coordinates; world y points
// up while screen y points down.
func screenToWorld(camera rl.Camera2D, p rl.Vector2, cfg particles.Config) [2]float32 {
	w := rl.GetScreenToWorld2D(p, camera)
	return [2]float32{w.X, cfg.WorldSize[1] - w.Y}
}

// spawnBurst scatters particles in rings around the pointer, the spawn
// key's behavior.
func spawnBurst(engine *particles.Engine, rng *rand.Rand, center [2]float32) {
	for i := 0; i < 100; i++ {
		angle := rng.Float64() * 2 * math.Pi
		minR := 10.0
		maxR := 50.0 + float64(i)*1.5
		ring := minR + rng.Float64()*(maxR-minR)

		pos := [2]float32{
			center[0] + float32(ring*math.Cos(angle)),
			center[1] + float32(ring*math.Sin(angle)),
		}
		radius := float32(1 + rng.Intn(3))
		if err := engine.Spawn(1, pos, radius); err != nil {
			slog.Warn("spawn failed", "error", err)
			return
		}
	}
}

func draw(engine *particles.Engine, cfg particles.Config, camera rl.Camera2D, showGrid bool) {
	rl.BeginDrawing()
	rl.ClearBackground(rl.Color{R: 12, G: 14, B: 24, A: 255})

	rl.BeginMode2D(camera)

	if showGrid {
		drawGrid(cfg)
	}

	h := engine.Handles()
	for k := 0; k < h.Len; k++ {
		c := h.Color(k)
		x := h.Positions[2*k]
		y := cfg.WorldSize[1] - h.Positions[2*k+1]
		rl.DrawCircleV(rl.Vector2{X: x, Y: y}, h.Radii[k], rl.Color{
			R: uint8(c[0] * 255),
			G: uint8(c[1] * 255),
			B: uint8(c[2] * 255),
			A: 255,
		})
	}

	rl.EndMode2D()

	rl.DrawText(fmt.Sprintf("particles: %d", engine.Len()), 10, 10, 20, rl.White)
	rl.DrawText(fmt.Sprintf("sim time: %.1fs", engine.SimTime()), 10, 35, 20, rl.White)
	if engine.GPUReady() {
		rl.DrawText("pipeline: GPU", 10, 60, 20, rl.Green)
	} else {
		rl.DrawText("pipeline: CPU", 10, 60, 20, rl.Yellow)
	}
	rl.DrawText("space: spawn  drag: attract  wasd: pan  wheel: zoom", 10, 85, 16, rl.Gray)

	rl.EndDrawing()
}

func drawGrid(cfg particles.Config) {
	cell := cfg.CellSize()
	lineColor := rl.Color{R: 40, G: 44, B: 60, A: 255}
	for x := float32(0); x <= cfg.WorldSize[0]; x += cell {
		rl.DrawLineV(rl.Vector2{X: x, Y: 0}, rl.Vector2{X: x, Y: cfg.WorldSize[1]}, lineColor)
	}
	for y := float32(0); y <= cfg.WorldSize[1]; y += cell {
		rl.DrawLineV(rl.Vector2{X: 0, Y: y}, rl.Vector2{X: cfg.WorldSize[0], Y: y}, lineColor)
	}
}
