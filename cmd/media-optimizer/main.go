// Command media-optimizer batch-optimizes the media files under a
// directory tree, either replacing them in place or mirroring the tree
// into an output directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	internal "github.com/dodogabrie/space-media-optimizer/optimizer"
	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/encode"
	"github.com/dodogabrie/space-media-optimizer/optimizer/events"
	"github.com/dodogabrie/space-media-optimizer/optimizer/run"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	flags := flag.NewFlagSet("media-optimizer", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: media-optimizer [flags] <directory>\n\n")
		flags.PrintDefaults()
	}

	configPath := flags.StringP("config", "c", "", "path to a config file")
	flags.IntP("quality", "q", 80, "JPEG quality (1-100)")
	flags.Int("webp-quality", 80, "WebP quality (1-100)")
	flags.Int("crf", 26, "video CRF (0-51, lower is better)")
	flags.String("audio-bitrate", "128k", "audio bitrate for video transcodes")
	flags.Float64P("threshold", "t", 0.9, "keep results only below this fraction of the original size")
	flags.IntP("workers", "w", 4, "base concurrency level")
	flags.BoolP("dry-run", "n", false, "measure without modifying any file")
	flags.StringP("output", "o", "", "write results into this directory instead of replacing in place")
	flags.Bool("webp", false, "convert all images to WebP")
	flags.Bool("keep-existing", false, "skip files whose output already exists (output mode only)")
	flags.Bool("skip-video", false, "copy videos without recompressing")
	flags.Bool("json", false, "emit line-delimited JSON events on stdout")
	flags.BoolP("verbose", "v", false, "debug logging")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(exitUsage)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(exitUsage)
	}
	root := flags.Arg(0)

	cfg, err := loadConfig(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "media-optimizer: %v\n", err)
		os.Exit(exitFailure)
	}

	logger := newLogger(cfg)

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		fail(cfg, logger, fmt.Errorf("input directory does not exist: %s", root))
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			fail(cfg, logger, fmt.Errorf("cannot create output directory: %w", err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opt, err := run.New(root, cfg, encode.NewToolResolver(nil), logger)
	if err != nil {
		fail(cfg, logger, err)
	}
	if _, err := opt.Run(ctx); err != nil {
		fail(cfg, logger, err)
	}
}

func loadConfig(configPath string, flags *flag.FlagSet) (*config.RunConfig, error) {
	if err := config.BindFlags(flags); err != nil {
		return nil, err
	}
	return config.LoadConfig(configPath)
}

// newLogger configures the global log sink. In structured mode logs go to
// stderr so stdout stays a clean event stream; interactive runs get the
// console writer.
func newLogger(cfg *config.RunConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	if cfg.StructuredOutput {
		return internal.GetLogger().Level(level)
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// fail reports a run-level error on the active protocol and exits non-zero.
func fail(cfg *config.RunConfig, logger zerolog.Logger, err error) {
	if cfg.StructuredOutput {
		events.NewEmitter(os.Stdout).Emit(events.Error{
			Type:    "error",
			Message: err.Error(),
			Details: string(common.KindOf(err)),
		})
	}
	logger.Error().Err(err).Msg("run aborted")
	os.Exit(exitFailure)
}
