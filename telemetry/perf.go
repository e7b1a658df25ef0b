// Package telemetry collects per-frame, per-stage timings from the
// simulation pipeline and exports them as CSV tables or chrome://tracing
// trace files.
package telemetry

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stage names for the frame pipeline.
const (
	StageIntegrate   = "integrate"
	StageCellIDs     = "cell_ids"
	StageSort        = "sort"
	StageCountChunks = "count_chunks"
	StageScan        = "scan"
	StageBuildCells  = "build_cells"
	StageSolve       = "solve"
	StageReorder     = "reorder"
)

// PerfSample holds timing data for a single frame.
type PerfSample struct {
	FrameDuration time.Duration
	Stages        map[string]time.Duration
}

// PerfCollector tracks stage timings over a rolling window of frames.
// It is not safe for concurrent use; the frame driver owns it.
type PerfCollector struct {
	windowSize  int
	samples     []PerfSample
	writeIndex  int
	sampleCount int
	frameIndex  uint64

	currentStages map[string]time.Duration
	frameStart    time.Time
	stageStart    time.Time
	currentStage  string
}

// NewPerfCollector creates a collector averaging over windowSize frames
// (e.g. 60 for one second at 60 fps).
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentStages: make(map[string]time.Duration),
	}
}

// StartFrame begins timing a new frame.
func (p *PerfCollector) StartFrame() {
	p.frameStart = time.Now()
	p.currentStages = make(map[string]time.Duration)
	p.currentStage = ""
}

// StartStage closes the current stage, if any, and begins a new one.
func (p *PerfCollector) StartStage(name string) {
	now := time.Now()
	if p.currentStage != "" {
		p.currentStages[p.currentStage] += now.Sub(p.stageStart)
	}
	p.currentStage = name
	p.stageStart = now
}

// EndFrame closes the open stage and commits the frame sample to the
// rolling window.
func (p *PerfCollector) EndFrame() {
	now := time.Now()
	if p.currentStage != "" {
		p.currentStages[p.currentStage] += now.Sub(p.stageStart)
		p.currentStage = ""
	}

	p.samples[p.writeIndex] = PerfSample{
		FrameDuration: now.Sub(p.frameStart),
		Stages:        p.currentStages,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
	p.frameIndex++
	p.currentStages = make(map[string]time.Duration)
}

// FrameIndex returns the number of committed frames.
func (p *PerfCollector) FrameIndex() uint64 { return p.frameIndex }

// LastSample returns the most recently committed frame sample.
func (p *PerfCollector) LastSample() (PerfSample, bool) {
	if p.sampleCount == 0 {
		return PerfSample{}, false
	}
	idx := (p.writeIndex - 1 + p.windowSize) % p.windowSize
	return p.samples[idx], true
}

// StageSummary aggregates a stage's timings over the window.
type StageSummary struct {
	Stage  string
	Mean   time.Duration
	StdDev time.Duration
	P95    time.Duration
	Max    time.Duration
}

// Summary returns per-stage statistics over the rolling window, sorted by
// descending mean, plus whole-frame statistics under the "frame" stage.
func (p *PerfCollector) Summary() []StageSummary {
	if p.sampleCount == 0 {
		return nil
	}

	series := map[string][]float64{"frame": nil}
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		series["frame"] = append(series["frame"], float64(s.FrameDuration))
		for name, d := range s.Stages {
			series[name] = append(series[name], float64(d))
		}
	}

	out := make([]StageSummary, 0, len(series))
	for name, xs := range series {
		sort.Float64s(xs)
		mean, std := stat.MeanStdDev(xs, nil)
		out = append(out, StageSummary{
			Stage:  name,
			Mean:   time.Duration(mean),
			StdDev: duration(std),
			P95:    time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
			Max:    time.Duration(xs[len(xs)-1]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mean > out[j].Mean })
	return out
}

// duration converts a possibly-NaN float (single-sample stddev) to a
// Duration without poisoning the summary.
func duration(v float64) time.Duration {
	if v != v {
		return 0
	}
	return time.Duration(v)
}
