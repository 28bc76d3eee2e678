// Package encode wraps the external encoder binaries behind a narrow
// collaborator boundary: the orchestration core hands over an input path,
// a resolved output path and quality settings, and gets back either an
// output file at that path or a typed failure. Which binary served the
// request is this package's concern alone.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"
)

// Encoder produces an optimized rendition of input at output.
type Encoder interface {
	// Encode writes the optimized file to output. The output's parent
	// directory exists before the call.
	Encode(ctx context.Context, input, output string) error
	// Kind reports which media kind this encoder serves.
	Kind() discover.Kind
}

// Set holds one encoder per media kind.
type Set struct {
	Image Encoder
	Video Encoder
}

// ForKind selects the encoder for a discovered file.
func (s Set) ForKind(kind discover.Kind) (Encoder, error) {
	switch kind {
	case discover.KindImage:
		return s.Image, nil
	case discover.KindVideo:
		return s.Video, nil
	default:
		return nil, common.Ef(common.KindUnsupportedFormat, "", "no encoder for kind %q", kind)
	}
}

// runTool executes an external binary and classifies its failure modes.
func runTool(ctx context.Context, tool string, stdout *os.File, args ...string) error {
	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := stderr.String()
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return fmt.Errorf("%s failed: %w: %s", tool, err, msg)
	}
	return nil
}

// verifyOutput ensures the encoder actually produced a file.
func verifyOutput(output string) error {
	info, err := os.Stat(output)
	if err != nil {
		return common.E(common.KindEncoder, output, common.ErrEncoderNoOutput)
	}
	if info.Size() == 0 {
		return common.E(common.KindEncoder, output, common.ErrEncoderNoOutput)
	}
	return nil
}
