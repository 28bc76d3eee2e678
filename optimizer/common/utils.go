package common

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathUtils provides path manipulation utilities used across optimizer packages
type PathUtils struct{}

// NewPathUtils creates a new PathUtils instance
func NewPathUtils() *PathUtils {
	return &PathUtils{}
}

// Canonicalize resolves path to an absolute path with symlinks evaluated.
// Falls back to the cleaned absolute path when the target does not exist.
func (pu *PathUtils) Canonicalize(path string) (string, error) {
	if path == "" {
		return "", ErrPathEmpty
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return filepath.Clean(abs), nil
	}
	return resolved, nil
}

// IsSubpath checks if child is a subpath of parent
func (pu *PathUtils) IsSubpath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..") && rel != "."
}

// SplitPath splits a path into directory, stem and extension components
func (pu *PathUtils) SplitPath(path string) (dir, stem, ext string) {
	dir = filepath.Dir(path)
	stem = filepath.Base(path)
	ext = filepath.Ext(stem)
	if ext != "" {
		stem = strings.TrimSuffix(stem, ext)
		ext = strings.TrimPrefix(ext, ".")
	}
	return dir, stem, ext
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count in human readable form
func FormatSize(size uint64) string {
	value := float64(size)
	unit := 0
	for value >= 1024.0 && unit < len(sizeUnits)-1 {
		value /= 1024.0
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", size, sizeUnits[unit])
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[unit])
}

// ReductionPercent calculates the percentage reduction from original to new size
func ReductionPercent(originalSize, newSize uint64) float64 {
	if originalSize == 0 {
		return 0.0
	}
	return (float64(originalSize) - float64(newSize)) / float64(originalSize) * 100.0
}
