// Package report aggregates run-wide counters under concurrent completion
// and renders them either as an interactive progress bar or as the
// structured event stream. Both modes are rendering strategies over the
// same counters, fixed once at the start of the run.
package report

import (
	"io"
	"path/filepath"
	"sync"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/events"

	"github.com/rs/zerolog"
	progressbar "github.com/schollz/progressbar/v3"
)

// RunStats are the run-scoped counters, distinct from the ledger's
// lifetime statistics.
type RunStats struct {
	FilesProcessed  int
	FilesOptimized  int
	FilesSkipped    int
	Errors          int
	TotalBytesSaved uint64

	// byte totals over optimized files only, for the average reduction
	originalBytes  uint64
	optimizedBytes uint64
}

// OverallReduction is the aggregate reduction across optimized files.
func (s RunStats) OverallReduction() float64 {
	return common.ReductionPercent(s.originalBytes, s.optimizedBytes)
}

// Outcome describes one settled file.
type Outcome struct {
	Path             string
	OriginalSize     uint64
	OptimizedSize    uint64
	ReductionPercent float64
	Skipped          bool
	Err              error
}

// Reporter is safe for concurrent use by many completing tasks.
type Reporter struct {
	mu      sync.Mutex
	total   int
	current int
	stats   RunStats

	emitter *events.Emitter
	bar     *progressbar.ProgressBar
	logger  zerolog.Logger
}

// New builds a reporter. With structured=true events go to out (stdout);
// otherwise a progress bar is drawn on out (stderr).
func New(total int, structured bool, out io.Writer, logger zerolog.Logger) *Reporter {
	r := &Reporter{
		total:  total,
		logger: logger.With().Str("component", "reporter").Logger(),
	}
	if structured {
		r.emitter = events.NewEmitter(out)
	} else {
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("optimizing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

// Structured reports whether the reporter emits the event protocol.
func (r *Reporter) Structured() bool { return r.emitter != nil }

// Emitter exposes the event stream for run-level events (start, complete,
// error). Returns nil in human mode.
func (r *Reporter) Emitter() *events.Emitter { return r.emitter }

// FileStarted announces a file entering its pipeline.
func (r *Reporter) FileStarted(path string, size uint64, index int) {
	if r.emitter != nil {
		r.emitter.Emit(events.FileStart{
			Type:  "file_start",
			Path:  path,
			Size:  size,
			Index: index,
			Total: r.total,
		})
	}
}

// FileDone folds one outcome into the counters and renders it.
func (r *Reporter) FileDone(o Outcome) {
	r.mu.Lock()
	r.current++
	switch {
	case o.Err != nil:
		r.stats.Errors++
	case o.Skipped:
		r.stats.FilesProcessed++
		r.stats.FilesSkipped++
	default:
		r.stats.FilesProcessed++
		r.stats.FilesOptimized++
		r.stats.originalBytes += o.OriginalSize
		r.stats.optimizedBytes += o.OptimizedSize
		if o.OriginalSize > o.OptimizedSize {
			r.stats.TotalBytesSaved += o.OriginalSize - o.OptimizedSize
		}
	}
	stats := r.stats
	current := r.current
	r.mu.Unlock()

	if r.emitter != nil {
		errMsg := ""
		if o.Err != nil {
			errMsg = o.Err.Error()
		}
		r.emitter.Emit(events.FileComplete{
			Type:             "file_complete",
			Path:             o.Path,
			OriginalSize:     o.OriginalSize,
			OptimizedSize:    o.OptimizedSize,
			ReductionPercent: o.ReductionPercent,
			Skipped:          o.Skipped,
			Error:            errMsg,
		})
		r.emitter.Emit(events.NewProgress(current, r.total,
			stats.FilesOptimized, stats.FilesSkipped, stats.Errors, stats.TotalBytesSaved))
		return
	}

	r.bar.Describe(r.describe(o))
	r.bar.Add(1)
}

func (r *Reporter) describe(o Outcome) string {
	name := filepath.Base(o.Path)
	switch {
	case o.Err != nil:
		return "[ERROR] " + name
	case o.Skipped:
		return "[SKIP] " + name
	default:
		return "[OK] " + name
	}
}

// Snapshot returns the counters accumulated so far.
func (r *Reporter) Snapshot() RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Finish completes the progress rendering. The final summary itself is the
// orchestrator's job since it folds in ledger lifetime statistics.
func (r *Reporter) Finish() {
	if r.bar != nil {
		r.bar.Finish()
	}
}
