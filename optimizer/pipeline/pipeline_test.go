package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/dodogabrie/space-media-optimizer/optimizer"
	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"
	"github.com/dodogabrie/space-media-optimizer/optimizer/encode"
	"github.com/dodogabrie/space-media-optimizer/optimizer/ledger"
	"github.com/dodogabrie/space-media-optimizer/optimizer/schedule"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEncoder writes a payload of a fixed size, or fails.
type stubEncoder struct {
	kind    discover.Kind
	outSize int
	err     error
	block   bool // sleep until the context expires
	calls   int
}

func (s *stubEncoder) Encode(ctx context.Context, input, output string) error {
	s.calls++
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(output, make([]byte, s.outSize), 0o644)
}

func (s *stubEncoder) Kind() discover.Kind { return s.kind }

type pipelineEnv struct {
	t     *testing.T
	cfg   *config.RunConfig
	root  string
	led   *ledger.Ledger
	image *stubEncoder
	video *stubEncoder
	pipe  *Pipeline
}

func newEnv(t *testing.T, mutate func(*config.RunConfig)) *pipelineEnv {
	t.Helper()
	base := t.TempDir()

	orig := internal.DefaultStateDir
	internal.DefaultStateDir = filepath.Join(base, "state")
	t.Cleanup(func() { internal.DefaultStateDir = orig })

	root := filepath.Join(base, "media")
	require.NoError(t, os.MkdirAll(root, 0o755))
	canonical, err := common.NewPathUtils().Canonicalize(root)
	require.NoError(t, err)

	cfg := &config.RunConfig{
		JPEGQuality:   80,
		WebPQuality:   80,
		VideoCRF:      26,
		AudioBitrate:  "128k",
		SizeThreshold: 0.9,
		Workers:       2,
		Limits: config.Limits{
			SmallMaxBytes:  5 * 1024 * 1024,
			MediumMaxBytes: 20 * 1024 * 1024,
			SmallTimeout:   time.Minute,
			MediumTimeout:  time.Minute,
			LargeTimeout:   time.Minute,
			VideoTimeout:   time.Minute,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	if cfg.OutputDir != "" {
		require.NoError(t, os.MkdirAll(cfg.OutputDir, 0o755))
	}

	led, err := ledger.Open(canonical, zerolog.Nop())
	require.NoError(t, err)

	image := &stubEncoder{kind: discover.KindImage, outSize: 100}
	video := &stubEncoder{kind: discover.KindVideo, outSize: 100}
	return &pipelineEnv{
		t:     t,
		cfg:   cfg,
		root:  canonical,
		led:   led,
		image: image,
		video: video,
		pipe:  New(cfg, canonical, led, encode.Set{Image: image, Video: video}, zerolog.Nop()),
	}
}

func (e *pipelineEnv) writeMedia(rel string, size int) discover.File {
	e.t.Helper()
	path := filepath.Join(e.root, rel)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, bytesOf(size), 0o644))
	info, err := os.Stat(path)
	require.NoError(e.t, err)
	kind, ok := discover.KindOf(path)
	require.True(e.t, ok)
	return discover.File{Path: path, Size: uint64(info.Size()), ModTime: info.ModTime(), Kind: kind}
}

// bytesOf returns a distinctive payload so verbatim copies are detectable.
func bytesOf(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte('a' + i%23)
	}
	return b
}

func TestInPlaceKeepReplacesAndLedgers(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)
	env.image.outSize = 500 // well under 1000*0.9

	rec, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.False(t, skipped)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(1000), rec.OriginalSize)
	assert.Equal(t, uint64(500), rec.OptimizedSize)

	info, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(500), info.Size())

	// replaced file is ledgered under its new mtime
	assert.True(t, env.led.IsProcessed(file.Path, info.ModTime()))

	// no backup left behind
	_, err = os.Stat(file.Path + ".backup")
	assert.True(t, os.IsNotExist(err))
}

func TestThresholdBoundaryDiscards(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)
	env.image.outSize = 900 // exactly original*threshold: not strictly below

	rec, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.True(t, skipped)
	require.NotNil(t, rec)
	assert.Equal(t, rec.OriginalSize, rec.OptimizedSize)

	// original untouched
	info, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Size())

	// still ledgered so the next run skips it
	assert.True(t, env.led.IsProcessed(file.Path, file.ModTime))
}

func TestJustBelowBoundaryKeeps(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)
	env.image.outSize = 899

	_, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.False(t, skipped)
}

func TestLedgerSkipAvoidsEncoder(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)
	require.NoError(t, env.led.MarkProcessed(ledger.NewRecord(file.Path, file.ModTime, 1000, 500)))

	rec, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Nil(t, rec)
	assert.Equal(t, 0, env.image.calls)
}

func TestModifiedFileReprocessed(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)
	require.NoError(t, env.led.MarkProcessed(ledger.NewRecord(file.Path, file.ModTime.Add(-time.Hour), 1000, 500)))

	_, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, 1, env.image.calls)
}

func TestDryRunMutatesNothing(t *testing.T) {
	env := newEnv(t, func(c *config.RunConfig) { c.DryRun = true })
	file := env.writeMedia("a.jpg", 1000)
	env.image.outSize = 500

	rec, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.False(t, skipped)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(500), rec.OptimizedSize)

	// original bytes untouched
	info, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Size())

	// measurement runs leave no ledger trace
	assert.False(t, env.led.IsProcessed(file.Path, file.ModTime))
}

func TestOutputModeMirrorsKeptResult(t *testing.T) {
	env := newEnv(t, nil)
	outDir := filepath.Join(filepath.Dir(env.root), "out")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	env.cfg.OutputDir = outDir

	file := env.writeMedia(filepath.Join("sub", "a.jpg"), 1000)
	env.image.outSize = 500

	rec, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.False(t, skipped)
	require.NotNil(t, rec)

	// input untouched, output mirrored
	inInfo, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), inInfo.Size())

	outInfo, err := os.Stat(filepath.Join(outDir, "sub", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, int64(500), outInfo.Size())

	// output-directory runs do not use the ledger
	assert.False(t, env.led.IsProcessed(file.Path, file.ModTime))
}

func TestOutputModeDiscardedCopiesOriginal(t *testing.T) {
	env := newEnv(t, nil)
	outDir := filepath.Join(filepath.Dir(env.root), "out")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	env.cfg.OutputDir = outDir

	file := env.writeMedia("a.jpg", 1000)
	env.image.outSize = 990 // above threshold, discarded

	rec, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.True(t, skipped)
	require.NotNil(t, rec)

	// the output holds the original bytes verbatim
	got, err := os.ReadFile(filepath.Join(outDir, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, bytesOf(1000), got)
}

func TestOutputModeKeepExistingSkips(t *testing.T) {
	env := newEnv(t, nil)
	outDir := filepath.Join(filepath.Dir(env.root), "out")
	env.cfg.OutputDir = outDir
	env.cfg.KeepExisting = true

	file := env.writeMedia("a.jpg", 1000)
	outPath := filepath.Join(outDir, "a.jpg")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(outPath, []byte("existing"), 0o644))

	rec, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Nil(t, rec)
	assert.Equal(t, 0, env.image.calls)

	// the pre-existing output is untouched
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("existing"), got)
}

func TestEncoderFailureLeavesOriginal(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)
	env.image.err = errors.New("jpegoptim exited 1")

	rec, _, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.Error(t, err)
	assert.Nil(t, rec)

	info, statErr := os.Stat(file.Path)
	require.NoError(t, statErr)
	assert.Equal(t, int64(1000), info.Size())
	assert.False(t, env.led.IsProcessed(file.Path, file.ModTime))
}

func TestTimeoutClassified(t *testing.T) {
	env := newEnv(t, func(c *config.RunConfig) {
		c.Limits.SmallTimeout = 20 * time.Millisecond
	})
	file := env.writeMedia("a.jpg", 1000)
	env.image.block = true

	_, _, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.Error(t, err)
	assert.Equal(t, common.KindTimeout, common.KindOf(err))
}

func TestTimeoutInOutputModeCopiesOriginal(t *testing.T) {
	env := newEnv(t, func(c *config.RunConfig) {
		c.Limits.SmallTimeout = 20 * time.Millisecond
	})
	outDir := filepath.Join(filepath.Dir(env.root), "out")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	env.cfg.OutputDir = outDir

	file := env.writeMedia("a.jpg", 1000)
	env.image.block = true

	_, _, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.Error(t, err)

	// the output tree still gets the original so it stays complete
	got, readErr := os.ReadFile(filepath.Join(outDir, "a.jpg"))
	require.NoError(t, readErr)
	assert.Equal(t, bytesOf(1000), got)
}

func TestCancelledBeforeStart(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := env.pipe.Process(ctx, file, schedule.ClassSmall)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, env.image.calls)
}

func TestVanishedFileIsIoError(t *testing.T) {
	env := newEnv(t, nil)
	file := env.writeMedia("a.jpg", 1000)
	require.NoError(t, os.Remove(file.Path))

	_, _, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.Error(t, err)
	assert.Equal(t, common.KindIo, common.KindOf(err))
}

func TestWebPConversionInPlaceReplacesOriginal(t *testing.T) {
	env := newEnv(t, func(c *config.RunConfig) { c.ConvertToWebP = true })
	file := env.writeMedia("a.png", 1000)
	env.image.outSize = 500

	_, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.False(t, skipped)

	// conversion still commits through the replace step on the original path
	info, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(500), info.Size())
}

func TestWebPConversionOutputModeRenames(t *testing.T) {
	env := newEnv(t, func(c *config.RunConfig) { c.ConvertToWebP = true })
	outDir := filepath.Join(filepath.Dir(env.root), "out")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	env.cfg.OutputDir = outDir

	file := env.writeMedia("a.png", 1000)
	env.image.outSize = 500

	_, skipped, err := env.pipe.Process(context.Background(), file, schedule.ClassSmall)
	require.NoError(t, err)
	assert.False(t, skipped)

	info, err := os.Stat(filepath.Join(outDir, "a.webp"))
	require.NoError(t, err)
	assert.Equal(t, int64(500), info.Size())
}
