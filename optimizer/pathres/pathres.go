// Package pathres maps an input file and run configuration to its
// deterministic output location. Resolution is a pure function: directory
// creation is the pipeline's job, never the resolver's.
package pathres

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dodogabrie/space-media-optimizer/optimizer/common"
	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"
)

// fallback extension for inputs with no extension at all
const defaultExtension = "jpg"

// OutputExtension determines the output extension for a file: videos are
// always containerized as mp4, images become webp under format conversion,
// otherwise the original extension is preserved.
func OutputExtension(inputPath string, cfg *config.RunConfig) string {
	if discover.IsVideo(inputPath) {
		return "mp4"
	}
	if cfg.ConvertToWebP {
		return "webp"
	}
	ext := strings.TrimPrefix(filepath.Ext(inputPath), ".")
	if ext == "" {
		return defaultExtension
	}
	return ext
}

// Resolve computes the output path for inputPath. With an output root
// configured the input's directory structure relative to inputRoot is
// preserved beneath it; without one the result is a sibling of the input
// carrying the new filename.
func Resolve(inputPath, inputRoot string, cfg *config.RunConfig) (string, error) {
	pathUtils := common.NewPathUtils()
	_, stem, _ := pathUtils.SplitPath(inputPath)
	if stem == "" {
		return "", common.Ef(common.KindIo, inputPath, "invalid file name: %s", inputPath)
	}
	filename := fmt.Sprintf("%s.%s", stem, OutputExtension(inputPath, cfg))

	if cfg.OutputDir == "" {
		return filepath.Join(filepath.Dir(inputPath), filename), nil
	}

	canonicalRoot, err := pathUtils.Canonicalize(inputRoot)
	if err != nil {
		return "", common.E(common.KindIo, inputRoot, fmt.Errorf("failed to canonicalize input root: %w", err))
	}
	canonicalOutput, err := pathUtils.Canonicalize(cfg.OutputDir)
	if err != nil {
		return "", common.E(common.KindIo, cfg.OutputDir, fmt.Errorf("failed to canonicalize output dir: %w", err))
	}

	// Preserve the relative directory structure. A path that escapes the
	// declared root still gets a deterministic location: its immediate
	// parent directory name becomes the relative component.
	relDir := filepath.Base(filepath.Dir(inputPath))
	if rel, relErr := filepath.Rel(canonicalRoot, inputPath); relErr == nil && !strings.HasPrefix(rel, "..") {
		relDir = filepath.Dir(rel)
	}

	return filepath.Join(canonicalOutput, relDir, filename), nil
}
