package encode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"

	"github.com/rs/zerolog"
)

// ImageEncoder optimizes jpeg, png and webp files through the matching
// external tool, or converts everything to webp when requested.
type ImageEncoder struct {
	cfg    *config.RunConfig
	tools  *ToolResolver
	logger zerolog.Logger
}

// NewImageEncoder builds the image collaborator.
func NewImageEncoder(cfg *config.RunConfig, tools *ToolResolver, logger zerolog.Logger) *ImageEncoder {
	return &ImageEncoder{
		cfg:    cfg,
		tools:  tools,
		logger: logger.With().Str("component", "image-encoder").Logger(),
	}
}

// Kind implements Encoder.
func (e *ImageEncoder) Kind() discover.Kind { return discover.KindImage }

// Encode writes the optimized image to output, preserving metadata on a
// best-effort basis.
func (e *ImageEncoder) Encode(ctx context.Context, input, output string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(input), "."))

	var err error
	switch {
	case e.cfg.ConvertToWebP:
		err = e.encodeWebP(ctx, input, output)
	case ext == "jpg" || ext == "jpeg":
		err = e.encodeJPEG(ctx, input, output)
	case ext == "png":
		err = e.encodePNG(ctx, input, output)
	case ext == "webp":
		err = e.encodeWebP(ctx, input, output)
	default:
		return common.Ef(common.KindUnsupportedFormat, input, "unsupported image format: %s", ext)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.E(common.KindEncoder, input, err)
	}
	if err := verifyOutput(output); err != nil {
		return err
	}

	e.preserveMetadata(ctx, input, output)
	return nil
}

// encodeJPEG runs jpegoptim in stdout mode so the result lands at output
// without jpegoptim touching the original.
func (e *ImageEncoder) encodeJPEG(ctx context.Context, input, output string) error {
	tool, err := e.tools.Resolve(ToolJpegoptim)
	if err != nil {
		return err
	}
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()
	return runTool(ctx, tool, out,
		fmt.Sprintf("--max=%d", e.cfg.JPEGQuality),
		"--strip-none",
		"--stdout",
		input,
	)
}

func (e *ImageEncoder) encodePNG(ctx context.Context, input, output string) error {
	tool, err := e.tools.Resolve(ToolOxipng)
	if err != nil {
		return err
	}
	return runTool(ctx, tool, nil,
		"--opt", "2",
		"--strip", "safe",
		"--force",
		"--out", output,
		input,
	)
}

func (e *ImageEncoder) encodeWebP(ctx context.Context, input, output string) error {
	tool, err := e.tools.Resolve(ToolCwebp)
	if err != nil {
		return err
	}
	return runTool(ctx, tool, nil,
		"-q", fmt.Sprintf("%d", e.cfg.WebPQuality),
		input,
		"-o", output,
	)
}

// preserveMetadata copies EXIF tags from input to output via exiftool and
// verifies the copy took. Metadata loss is logged, never fatal: the pixels
// are what the user asked us to keep.
func (e *ImageEncoder) preserveMetadata(ctx context.Context, input, output string) {
	source := extractEXIF(input)
	if source == nil {
		return
	}

	tool, err := e.tools.Resolve(ToolExiftool)
	if err != nil {
		e.logger.Warn().Str("path", input).Msg("exiftool unavailable, EXIF not preserved")
		return
	}
	if err := runTool(ctx, tool, nil,
		"-TagsFromFile", input,
		"-all:all",
		"-overwrite_original",
		output,
	); err != nil {
		e.logger.Warn().Str("path", input).Err(err).Msg("EXIF preservation failed")
		return
	}

	if copied := extractEXIF(output); len(copied) < len(source)/2 {
		e.logger.Warn().
			Str("path", output).
			Int("source_tags", len(source)).
			Int("output_tags", len(copied)).
			Msg("most EXIF tags were lost during optimization")
	}
}
