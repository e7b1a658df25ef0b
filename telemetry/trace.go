package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// traceEvent is one complete event ("ph":"X") in the chrome://tracing
// JSON array format, consumable by common browser tracing UIs.
type traceEvent struct {
	Name      string `json:"name"`
	Phase     string `json:"ph"`
	Timestamp int64  `json:"ts"`  // microseconds
	Duration  int64  `json:"dur"` // microseconds
	PID       int    `json:"pid"`
	TID       int    `json:"tid"`
}

// TraceWriter accumulates pipeline stage events and writes a trace file.
type TraceWriter struct {
	events []traceEvent
	epoch  time.Time
}

// NewTraceWriter creates a trace writer; timestamps are relative to now.
func NewTraceWriter() *TraceWriter {
	return &TraceWriter{epoch: time.Now()}
}

// RecordFrame appends one complete event per stage of the sample, plus a
// frame-spanning event, all anchored at the given frame start time.
func (t *TraceWriter) RecordFrame(frameStart time.Time, sample PerfSample) {
	base := frameStart.Sub(t.epoch).Microseconds()
	t.events = append(t.events, traceEvent{
		Name:      "frame",
		Phase:     "X",
		Timestamp: base,
		Duration:  sample.FrameDuration.Microseconds(),
		PID:       1,
		TID:       1,
	})

	offset := base
	for _, name := range []string{
		StageIntegrate, StageCellIDs, StageSort, StageCountChunks,
		StageScan, StageBuildCells, StageSolve, StageReorder,
	} {
		d, ok := sample.Stages[name]
		if !ok {
			continue
		}
		t.events = append(t.events, traceEvent{
			Name:      name,
			Phase:     "X",
			Timestamp: offset,
			Duration:  d.Microseconds(),
			PID:       1,
			TID:       2,
		})
		offset += d.Microseconds()
	}
}

// Write emits the accumulated events as a JSON array.
func (t *TraceWriter) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(t.events); err != nil {
		return fmt.Errorf("telemetry: encode trace: %w", err)
	}
	return nil
}

// WriteFile writes the trace to path.
func (t *TraceWriter) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("telemetry: create trace file: %w", err)
	}
	defer f.Close()
	return t.Write(f)
}

// Len returns the number of recorded events.
func (t *TraceWriter) Len() int { return len(t.events) }
