package encode

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"

	"github.com/rs/zerolog"
)

// VideoEncoder compresses videos into an mp4 container with ffmpeg. With
// SkipVideo set it degrades to a straight copy so the output tree still has
// a counterpart for every input.
type VideoEncoder struct {
	cfg    *config.RunConfig
	tools  *ToolResolver
	logger zerolog.Logger
}

// NewVideoEncoder builds the video collaborator.
func NewVideoEncoder(cfg *config.RunConfig, tools *ToolResolver, logger zerolog.Logger) *VideoEncoder {
	return &VideoEncoder{
		cfg:    cfg,
		tools:  tools,
		logger: logger.With().Str("component", "video-encoder").Logger(),
	}
}

// Kind implements Encoder.
func (e *VideoEncoder) Kind() discover.Kind { return discover.KindVideo }

// Encode compresses input to output.
func (e *VideoEncoder) Encode(ctx context.Context, input, output string) error {
	if e.cfg.SkipVideo {
		e.logger.Debug().Str("path", input).Msg("video compression skipped, copying")
		if err := copyFile(input, output); err != nil {
			return common.E(common.KindIo, input, err)
		}
		return nil
	}

	tool, err := e.tools.Resolve(ToolFfmpeg)
	if err != nil {
		return err
	}
	err = runTool(ctx, tool, nil,
		"-i", input,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", e.cfg.VideoCRF),
		"-preset", "medium",
		"-c:a", "aac",
		"-b:a", e.cfg.AudioBitrate,
		"-movflags", "+faststart",
		"-y",
		output,
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.E(common.KindEncoder, input, err)
	}
	return verifyOutput(output)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
