// Package pipeline runs the per-file state machine: skip-check, delegate to
// the encoder, size-threshold decision, commit or discard, ledger update.
// Each step checks for cancellation at fixed checkpoints; per-file failures
// never abort sibling tasks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"
	"github.com/dodogabrie/space-media-optimizer/optimizer/encode"
	"github.com/dodogabrie/space-media-optimizer/optimizer/ledger"
	"github.com/dodogabrie/space-media-optimizer/optimizer/pathres"
	"github.com/dodogabrie/space-media-optimizer/optimizer/schedule"

	"github.com/rs/zerolog"
)

// Pipeline processes single files. One instance is shared by all tasks;
// it holds no per-file state.
type Pipeline struct {
	cfg       *config.RunConfig
	inputRoot string
	led       *ledger.Ledger
	encoders  encode.Set
	pathUtils *common.PathUtils
	logger    zerolog.Logger
}

// New builds a pipeline for one run. inputRoot must be canonical.
func New(cfg *config.RunConfig, inputRoot string, led *ledger.Ledger, encoders encode.Set, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		inputRoot: inputRoot,
		led:       led,
		encoders:  encoders,
		pathUtils: common.NewPathUtils(),
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs the full pipeline for one file under the class timeout.
// It returns the record for a settled file, (nil, true, nil) when the
// skip-check applied, or a classified error.
func (p *Pipeline) Process(ctx context.Context, file discover.File, class schedule.Class) (*ledger.Record, bool, error) {
	if err := checkpoint(ctx); err != nil {
		return nil, false, err
	}

	// Re-canonicalize and stat: discovery data may be stale by the time the
	// permit was granted.
	path, err := p.pathUtils.Canonicalize(file.Path)
	if err != nil {
		return nil, false, common.E(common.KindIo, file.Path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, common.E(common.KindIo, path, err)
	}
	originalSize := uint64(info.Size())
	modTime := info.ModTime()

	resolved, err := pathres.Resolve(path, p.inputRoot, p.cfg)
	if err != nil {
		return nil, false, err
	}

	if p.shouldSkip(path, modTime, resolved) {
		return nil, true, nil
	}

	encodeTarget, cleanup, err := p.encodeTarget(resolved)
	if err != nil {
		return nil, false, err
	}
	defer cleanup()

	if err := checkpoint(ctx); err != nil {
		return nil, false, err
	}

	if err := p.runEncoder(ctx, file.Kind, path, encodeTarget, resolved, class); err != nil {
		return nil, false, err
	}

	if err := checkpoint(ctx); err != nil {
		return nil, false, err
	}

	optimizedInfo, err := os.Stat(encodeTarget)
	if err != nil {
		return nil, false, common.E(common.KindIo, encodeTarget, err)
	}
	optimizedSize := uint64(optimizedInfo.Size())

	keep := float64(optimizedSize) < float64(originalSize)*p.cfg.SizeThreshold
	p.logger.Debug().
		Str("path", path).
		Uint64("original", originalSize).
		Uint64("optimized", optimizedSize).
		Bool("keep", keep).
		Msg("threshold decision")

	if keep {
		return p.commitKept(path, encodeTarget, modTime, originalSize, optimizedSize)
	}
	return p.commitDiscarded(path, resolved, modTime, originalSize)
}

// shouldSkip implements the two skip strategies: the ledger for in-place
// runs, output existence for output-directory runs with keep-existing.
func (p *Pipeline) shouldSkip(path string, modTime time.Time, resolved string) bool {
	if p.cfg.InPlace() {
		return p.led.IsProcessed(path, modTime)
	}
	if p.cfg.KeepExisting {
		if _, err := os.Stat(resolved); err == nil {
			p.logger.Debug().Str("path", path).Str("output", resolved).Msg("output exists, skipping")
			return true
		}
	}
	return false
}

// encodeTarget decides where the encoder writes. Output-directory runs
// encode straight into the resolved location; in-place and dry runs use a
// temp file so the original tree is never touched before commit.
func (p *Pipeline) encodeTarget(resolved string) (string, func(), error) {
	if !p.cfg.InPlace() && !p.cfg.DryRun {
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return "", nil, common.E(common.KindIo, resolved, err)
		}
		return resolved, func() {}, nil
	}

	pattern := fmt.Sprintf("%s-*%s", "mediaopt", filepath.Ext(resolved))
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, common.E(common.KindIo, resolved, err)
	}
	name := tmp.Name()
	tmp.Close()
	return name, func() { os.Remove(name) }, nil
}

// runEncoder delegates to the collaborator under the class timeout. On
// timeout with an output root configured, a best-effort raw copy keeps the
// output tree complete.
func (p *Pipeline) runEncoder(ctx context.Context, kind discover.Kind, input, target, resolved string, class schedule.Class) error {
	enc, err := p.encoders.ForKind(kind)
	if err != nil {
		return err
	}

	encCtx, cancel := context.WithTimeout(ctx, class.Timeout(p.cfg.Limits))
	defer cancel()

	err = enc.Encode(encCtx, input, target)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		p.logger.Error().Str("path", input).Str("class", string(class)).Msg("processing timed out")
		p.copyOriginalAfterTimeout(input, resolved)
		return common.Ef(common.KindTimeout, input, "processing timed out after %s", class.Timeout(p.cfg.Limits))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// copyOriginalAfterTimeout is only meaningful with an output root: an
// output-directory run should not silently drop a file that merely ran long.
func (p *Pipeline) copyOriginalAfterTimeout(input, resolved string) {
	if p.cfg.InPlace() || p.cfg.DryRun {
		return
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		p.logger.Error().Str("path", resolved).Err(err).Msg("failed to create output dir after timeout")
		return
	}
	if err := copyFile(input, resolved); err != nil {
		p.logger.Error().Str("path", input).Err(err).Msg("failed to copy original after timeout")
	}
}

// commitKept makes a worthwhile optimization durable.
func (p *Pipeline) commitKept(path, encodeTarget string, modTime time.Time, originalSize, optimizedSize uint64) (*ledger.Record, bool, error) {
	rec := ledger.NewRecord(path, modTime, originalSize, optimizedSize)

	if p.cfg.DryRun {
		p.logger.Debug().Str("path", path).Msg("dry run: would keep optimized result")
		return &rec, false, nil
	}

	if p.cfg.InPlace() {
		if err := replaceFile(path, encodeTarget); err != nil {
			return nil, false, common.E(common.KindIo, path, err)
		}
		// The swap gave the file a new mtime; record that one, or the next
		// run would see a mismatch and re-encode an already optimized file.
		if info, err := os.Stat(path); err == nil {
			rec = ledger.NewRecord(path, info.ModTime(), originalSize, optimizedSize)
		}
		if err := p.led.MarkProcessed(rec); err != nil {
			return nil, false, err
		}
	}
	// Output-directory mode: the encoded file is already in place and the
	// run is idempotent by output existence, intentionally not ledgered.
	return &rec, false, nil
}

// commitDiscarded handles an optimization that was not worth keeping.
func (p *Pipeline) commitDiscarded(path, resolved string, modTime time.Time, originalSize uint64) (*ledger.Record, bool, error) {
	// Record equal sizes so re-runs skip the file without re-encoding.
	rec := ledger.NewRecord(path, modTime, originalSize, originalSize)

	if p.cfg.DryRun {
		return &rec, true, nil
	}

	if p.cfg.InPlace() {
		if err := p.led.MarkProcessed(rec); err != nil {
			return nil, false, err
		}
		return &rec, true, nil
	}

	// Every input gets a deterministic output counterpart even when the
	// optimization wasn't worthwhile: copy the original bytes verbatim.
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, false, common.E(common.KindIo, resolved, err)
	}
	if err := copyFile(path, resolved); err != nil {
		return nil, false, common.E(common.KindIo, path, err)
	}
	return &rec, true, nil
}

func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
