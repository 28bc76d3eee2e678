// Package discover walks a directory tree and returns the media files
// eligible for optimization. Discovery is intentionally simple: a recursive
// walk filtered by extension, with optional gitignore-style exclusions.
package discover

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	internal "github.com/dodogabrie/space-media-optimizer/optimizer"
	"github.com/dodogabrie/space-media-optimizer/optimizer/common"

	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
)

// Kind is the media kind of a discovered file, inferred from its extension.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// File describes one unit of work for the scheduler.
type File struct {
	// Path is absolute and canonical
	Path string
	// Size in bytes at discovery time
	Size uint64
	// ModTime is the last modification timestamp at discovery time
	ModTime time.Time
	Kind    Kind
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

// KindOf returns the media kind for a path, or false when the
// extension is not a supported media format.
func KindOf(path string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return KindImage, true
	case videoExts[ext]:
		return KindVideo, true
	default:
		return "", false
	}
}

// IsVideo reports whether the path has a supported video extension.
func IsVideo(path string) bool {
	k, ok := KindOf(path)
	return ok && k == KindVideo
}

// Find returns all supported media files under root, deduplicated by
// canonical path and sorted for deterministic scheduling order.
// A .optimizeignore file at the root is honored with gitignore semantics.
func Find(ctx context.Context, root string, logger zerolog.Logger) ([]File, error) {
	pathUtils := common.NewPathUtils()
	canonicalRoot, err := pathUtils.Canonicalize(root)
	if err != nil {
		return nil, common.E(common.KindIo, root, err)
	}

	var matcher *ignore.GitIgnore
	ignorePath := filepath.Join(canonicalRoot, internal.DefaultIgnoreFile)
	if m, err := ignore.CompileIgnoreFile(ignorePath); err == nil {
		matcher = m
		logger.Debug().Str("path", ignorePath).Msg("using ignore patterns")
	}

	seen := make(map[string]bool)
	var files []File

	walkErr := filepath.WalkDir(canonicalRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				// the root itself is unreadable
				return err
			}
			// Unreadable entries are skipped, not fatal for the run
			logger.Warn().Str("path", path).Err(err).Msg("skipping unreadable entry")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}
		kind, ok := KindOf(path)
		if !ok {
			return nil
		}
		if matcher != nil {
			if rel, relErr := filepath.Rel(canonicalRoot, path); relErr == nil && matcher.MatchesPath(rel) {
				logger.Debug().Str("path", path).Msg("ignored by pattern")
				return nil
			}
		}
		canonical, cerr := pathUtils.Canonicalize(path)
		if cerr != nil {
			logger.Warn().Str("path", path).Err(cerr).Msg("skipping file, canonicalize failed")
			return nil
		}
		if seen[canonical] {
			return nil
		}
		seen[canonical] = true

		info, ierr := d.Info()
		if ierr != nil {
			logger.Warn().Str("path", path).Err(ierr).Msg("skipping file, stat failed")
			return nil
		}
		files = append(files, File{
			Path:    canonical,
			Size:    uint64(info.Size()),
			ModTime: info.ModTime(),
			Kind:    kind,
		})
		return nil
	})
	if walkErr != nil {
		return nil, common.E(common.KindIo, canonicalRoot, walkErr)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
