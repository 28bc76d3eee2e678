// Package events defines the structured event protocol consumed by parent
// processes: line-delimited JSON on standard output, one object per line,
// tagged by a "type" field.
package events

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
)

// Config is the configuration snapshot embedded in the start event.
type Config struct {
	JPEGQuality   int  `json:"jpeg_quality"`
	VideoCRF      int  `json:"video_crf"`
	Workers       int  `json:"workers"`
	ConvertToWebP bool `json:"convert_to_webp"`
	WebPQuality   int  `json:"webp_quality"`
	DryRun        bool `json:"dry_run"`
}

// ConfigFrom extracts the event snapshot from a run configuration.
func ConfigFrom(cfg *config.RunConfig) Config {
	return Config{
		JPEGQuality:   cfg.JPEGQuality,
		VideoCRF:      cfg.VideoCRF,
		Workers:       cfg.Workers,
		ConvertToWebP: cfg.ConvertToWebP,
		WebPQuality:   cfg.WebPQuality,
		DryRun:        cfg.DryRun,
	}
}

// Start announces a run before any file is scheduled.
type Start struct {
	Type       string `json:"type"`
	InputDir   string `json:"input_dir"`
	OutputDir  string `json:"output_dir,omitempty"`
	TotalFiles int    `json:"total_files"`
	RunID      string `json:"run_id"`
	Config     Config `json:"config"`
}

// Progress reports run-wide counters after each completed file.
type Progress struct {
	Type           string  `json:"type"`
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	Percentage     float64 `json:"percentage"`
	FilesOptimized int     `json:"files_optimized"`
	FilesSkipped   int     `json:"files_skipped"`
	Errors         int     `json:"errors"`
	BytesSaved     uint64  `json:"bytes_saved"`
}

// FileStart announces that a file entered its pipeline.
type FileStart struct {
	Type  string `json:"type"`
	Path  string `json:"path"`
	Size  uint64 `json:"size"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// FileComplete reports one settled file, successful or not.
type FileComplete struct {
	Type             string  `json:"type"`
	Path             string  `json:"path"`
	OriginalSize     uint64  `json:"original_size"`
	OptimizedSize    uint64  `json:"optimized_size"`
	ReductionPercent float64 `json:"reduction_percent"`
	Skipped          bool    `json:"skipped"`
	Error            string  `json:"error,omitempty"`
}

// HistoricalStats is the ledger's lifetime aggregate, nested in Complete.
type HistoricalStats struct {
	TotalFilesEverProcessed   int     `json:"total_files_ever_processed"`
	TotalBytesSavedHistorically uint64  `json:"total_bytes_saved_historically"`
	AverageHistoricalReduction  float64 `json:"average_historical_reduction"`
}

// Complete is emitted once after every launched task has settled.
type Complete struct {
	Type             string          `json:"type"`
	FilesProcessed   int             `json:"files_processed"`
	FilesOptimized   int             `json:"files_optimized"`
	FilesSkipped     int             `json:"files_skipped"`
	Errors           int             `json:"errors"`
	TotalBytesSaved  uint64          `json:"total_bytes_saved"`
	AverageReduction float64         `json:"average_reduction"`
	DurationSeconds  float64         `json:"duration_seconds"`
	HistoricalStats  HistoricalStats `json:"historical_stats"`
}

// Error reports a run-level failure.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Emitter serializes events one per line. Safe for concurrent use.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter writes events to w, normally standard output.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes one event as a single JSON line. Marshal failures are
// swallowed: a malformed event must never break the stream for consumers.
func (e *Emitter) Emit(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w.Write(data)
	e.w.Write([]byte("\n"))
}

// NewProgress fills in the derived percentage.
func NewProgress(current, total, optimized, skipped, errors int, bytesSaved uint64) Progress {
	percentage := 0.0
	if total > 0 {
		percentage = float64(current) / float64(total) * 100.0
	}
	return Progress{
		Type:           "progress",
		Current:        current,
		Total:          total,
		Percentage:     percentage,
		FilesOptimized: optimized,
		FilesSkipped:   skipped,
		Errors:         errors,
		BytesSaved:     bytesSaved,
	}
}
