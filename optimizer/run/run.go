// Package run ties discovery, the ledger, the scheduler, the pipeline and
// the reporter together into one optimization run over a directory tree.
package run

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"
	"github.com/dodogabrie/space-media-optimizer/optimizer/encode"
	"github.com/dodogabrie/space-media-optimizer/optimizer/events"
	"github.com/dodogabrie/space-media-optimizer/optimizer/ledger"
	"github.com/dodogabrie/space-media-optimizer/optimizer/pipeline"
	"github.com/dodogabrie/space-media-optimizer/optimizer/report"
	"github.com/dodogabrie/space-media-optimizer/optimizer/schedule"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Optimizer orchestrates one run. Build it with New, then call Run once.
type Optimizer struct {
	cfg      *config.RunConfig
	root     string
	led      *ledger.Ledger
	sched    *schedule.Scheduler
	encoders encode.Set
	tools    *encode.ToolResolver
	runID    string

	// Stdout carries the structured event stream, Stderr the progress bar.
	// Overridable for tests.
	Stdout io.Writer
	Stderr io.Writer

	logger zerolog.Logger
}

// New validates the configuration and assembles the run's collaborators.
// Validation failures abort before any file is touched.
func New(root string, cfg *config.RunConfig, tools *encode.ToolResolver, logger zerolog.Logger) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, common.E(common.KindValidation, "", err)
	}

	canonicalRoot, err := common.NewPathUtils().Canonicalize(root)
	if err != nil {
		return nil, common.E(common.KindIo, root, err)
	}

	runID := uuid.NewString()
	logger = logger.With().Str("run_id", runID).Logger()

	led, err := ledger.Open(canonicalRoot, logger)
	if err != nil {
		return nil, err
	}

	return &Optimizer{
		cfg:   cfg,
		root:  canonicalRoot,
		led:   led,
		sched: schedule.New(cfg.Workers, assert.NewAssertHandler(), logger),
		encoders: encode.Set{
			Image: encode.NewImageEncoder(cfg, tools, logger),
			Video: encode.NewVideoEncoder(cfg, tools, logger),
		},
		tools:  tools,
		runID:  runID,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger,
	}, nil
}

// Ledger exposes the run's ledger, mainly for the final report and tests.
func (o *Optimizer) Ledger() *ledger.Ledger { return o.led }

// Run executes the whole optimization: dependency check, ledger cleanup,
// discovery, scheduling, and the final aggregate report. The returned stats
// are only valid because Run waits for every launched task to settle.
func (o *Optimizer) Run(ctx context.Context) (report.RunStats, error) {
	start := time.Now()

	if err := o.tools.CheckDependencies(o.cfg); err != nil {
		return report.RunStats{}, err
	}
	if err := o.led.Cleanup(); err != nil {
		return report.RunStats{}, err
	}

	files, err := discover.Find(ctx, o.root, o.logger)
	if err != nil {
		return report.RunStats{}, err
	}

	reporter := o.newReporter(len(files))
	o.emitStart(reporter, len(files))
	o.logConfiguration(len(files))

	if len(files) == 0 {
		stats := reporter.Snapshot()
		o.finish(reporter, stats, time.Since(start))
		return stats, nil
	}

	o.logDistribution(files)

	pipe := pipeline.New(o.cfg, o.root, o.led, o.encoders, o.logger)
	tasks := pool.New().WithMaxGoroutines(len(files)).WithContext(ctx)
	for i, file := range files {
		class := schedule.Classify(file, o.cfg.Limits)

		// Permits are acquired in submission order: the dispatch loop
		// blocks here until the class has headroom, so a large file's
		// exclusivity window starves new work of every class.
		permit, err := o.sched.Acquire(ctx, class)
		if err != nil {
			break // context cancelled; already-launched tasks drain below
		}

		index := i
		f := file
		tasks.Go(func(ctx context.Context) error {
			defer permit.Release()
			reporter.FileStarted(f.Path, f.Size, index)
			o.processOne(ctx, pipe, f, class, reporter)
			return nil
		})
	}
	// The aggregate is only valid after every launched task settled.
	_ = tasks.Wait()

	stats := reporter.Snapshot()
	o.finish(reporter, stats, time.Since(start))
	return stats, ctx.Err()
}

// processOne funnels a single pipeline result into the reporter. Per-file
// errors are counted and logged, never propagated to sibling tasks.
func (o *Optimizer) processOne(ctx context.Context, pipe *pipeline.Pipeline, f discover.File, class schedule.Class, reporter *report.Reporter) {
	rec, skipped, err := pipe.Process(ctx, f, class)

	outcome := report.Outcome{Path: f.Path, Skipped: skipped}
	switch {
	case err != nil:
		outcome.Err = err
		outcome.OriginalSize = f.Size
		outcome.OptimizedSize = f.Size
		o.logger.Error().Str("path", f.Path).Str("kind", string(common.KindOf(err))).Err(err).Msg("failed to process file")
	case rec != nil:
		outcome.OriginalSize = rec.OriginalSize
		outcome.OptimizedSize = rec.OptimizedSize
		outcome.ReductionPercent = rec.ReductionPercent
	default:
		// Skip-check skip: report the discovery-time size.
		outcome.OriginalSize = f.Size
		outcome.OptimizedSize = f.Size
	}
	reporter.FileDone(outcome)
}

func (o *Optimizer) newReporter(total int) *report.Reporter {
	if o.cfg.StructuredOutput {
		return report.New(total, true, o.Stdout, o.logger)
	}
	return report.New(total, false, o.Stderr, o.logger)
}

func (o *Optimizer) emitStart(reporter *report.Reporter, total int) {
	if emitter := reporter.Emitter(); emitter != nil {
		emitter.Emit(events.Start{
			Type:       "start",
			InputDir:   o.root,
			OutputDir:  o.cfg.OutputDir,
			TotalFiles: total,
			RunID:      o.runID,
			Config:     events.ConfigFrom(o.cfg),
		})
	}
}

func (o *Optimizer) logConfiguration(total int) {
	if o.cfg.StructuredOutput {
		return
	}
	if o.cfg.ConvertToWebP {
		o.logger.Info().Int("quality", o.cfg.WebPQuality).Msg("mode: convert all media to WebP")
	} else {
		o.logger.Info().Int("quality", o.cfg.JPEGQuality).Msg("mode: optimize in original formats")
	}
	if o.cfg.InPlace() {
		o.logger.Info().Msg("mode: replace files in place")
	} else {
		o.logger.Info().Str("output", o.cfg.OutputDir).Bool("keep_existing", o.cfg.KeepExisting).Msg("output directory configured")
	}
	if o.cfg.DryRun {
		o.logger.Info().Msg("dry run: no files will be modified")
	}
	if o.cfg.SkipVideo {
		o.logger.Info().Msg("video mode: skip compression (copy only)")
	} else {
		o.logger.Info().Int("crf", o.cfg.VideoCRF).Msg("video mode: compress")
	}
	o.logger.Info().Int("count", total).Msg("found media files to process")
}

func (o *Optimizer) logDistribution(files []discover.File) {
	if o.cfg.StructuredOutput {
		return
	}
	counts := map[schedule.Class]int{}
	for _, f := range files {
		counts[schedule.Classify(f, o.cfg.Limits)]++
	}
	o.logger.Info().
		Int("small", counts[schedule.ClassSmall]).
		Int("medium", counts[schedule.ClassMedium]).
		Int("large", counts[schedule.ClassLarge]).
		Int("video", counts[schedule.ClassVideo]).
		Msg("file size distribution")
}

// finish renders the final aggregate: the run counters plus the ledger's
// lifetime statistics.
func (o *Optimizer) finish(reporter *report.Reporter, stats report.RunStats, duration time.Duration) {
	reporter.Finish()

	count, totalSaved, avgReduction := o.led.Stats()
	historical := events.HistoricalStats{
		TotalFilesEverProcessed:     count,
		TotalBytesSavedHistorically: totalSaved,
		AverageHistoricalReduction:  avgReduction,
	}

	if emitter := reporter.Emitter(); emitter != nil {
		emitter.Emit(events.Complete{
			Type:             "complete",
			FilesProcessed:   stats.FilesProcessed,
			FilesOptimized:   stats.FilesOptimized,
			FilesSkipped:     stats.FilesSkipped,
			Errors:           stats.Errors,
			TotalBytesSaved:  stats.TotalBytesSaved,
			AverageReduction: stats.OverallReduction(),
			DurationSeconds:  duration.Seconds(),
			HistoricalStats:  historical,
		})
		return
	}

	o.logger.Info().
		Int("processed", stats.FilesProcessed).
		Int("optimized", stats.FilesOptimized).
		Int("skipped", stats.FilesSkipped).
		Int("errors", stats.Errors).
		Str("bytes_saved", common.FormatSize(stats.TotalBytesSaved)).
		Float64("average_reduction", stats.OverallReduction()).
		Dur("duration", duration).
		Msg("optimization complete")
	o.logger.Info().
		Int("total_files", count).
		Str("total_saved", common.FormatSize(totalSaved)).
		Float64("average_reduction", avgReduction).
		Msg("historical stats")
}
