package telemetry

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
)

// SummaryRecord is the CSV row shape for stage summaries.
type SummaryRecord struct {
	Stage    string  `csv:"stage"`
	MeanUs   float64 `csv:"mean_us"`
	StdDevUs float64 `csv:"stddev_us"`
	P95Us    float64 `csv:"p95_us"`
	MaxUs    float64 `csv:"max_us"`
}

// WriteSummaryCSV writes the collector's current rolling-window summary
// as a CSV table.
func WriteSummaryCSV(w io.Writer, p *PerfCollector) error {
	summaries := p.Summary()
	records := make([]SummaryRecord, len(summaries))
	for i, s := range summaries {
		records[i] = SummaryRecord{
			Stage:    s.Stage,
			MeanUs:   float64(s.Mean.Nanoseconds()) / 1e3,
			StdDevUs: float64(s.StdDev.Nanoseconds()) / 1e3,
			P95Us:    float64(s.P95.Nanoseconds()) / 1e3,
			MaxUs:    float64(s.Max.Nanoseconds()) / 1e3,
		}
	}

	if err := gocsv.Marshal(records, w); err != nil {
		return fmt.Errorf("telemetry: write summary: %w", err)
	}
	return nil
}

// WriteSummaryFile writes the summary CSV to path.
func WriteSummaryFile(path string, p *PerfCollector) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("telemetry: create summary file: %w", err)
	}
	defer f.Close()
	return WriteSummaryCSV(f, p)
}
